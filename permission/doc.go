// Package permission maps roles to 64-bit permission masks.
//
// Permissions are registered by name and receive stable bit positions.
// Roles are registered with the permissions they grant; both registries are
// frozen before use. The optional root bit grants every permission, which is
// how the admin role is modelled.
//
// The package is a pure in-memory structure with no I/O.
package permission
