// Package httpapi exposes the gateway over HTTP.
//
// Every /api route runs behind client address resolution, the source
// guard, browser sessions and CSRF validation. Authenticated routes add
// bearer verification; admin routes add a permission check and the admin
// action quota. Errors use the JSON envelope from package middleware.
package httpapi
