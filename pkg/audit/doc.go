// Package audit records permission-graph mutations and denied authorization
// checks.
//
// Two sinks are provided: DBLogger persists events to the audit_logs table
// and can search and purge them, LogrusLogger emits them as structured log
// entries. Both satisfy Logger.
//
//	logger, err := audit.NewDBLogger(db)
//	if err != nil {
//		return err
//	}
//	manager := rbac.NewManager(store, cfg, rbac.WithAuditLogger(logger))
package audit
