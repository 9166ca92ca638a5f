// Package sqlstore persists accounts and audit events in Postgres or
// SQLite.
//
// [UserStore] implements the gateway's UserRepository and AccountCreator;
// [AuditStore] is an audit sink that also serves the read path. Schema
// changes ship as embedded golang-migrate files, one tree per dialect, and
// are applied with [Migrate].
package sqlstore
