// Package logger provides structured logging for wmharvest.
//
// The Logger interface hides zerolog behind a small field-oriented API:
//
//	log := logger.GetLogger().WithField("entity_key", key)
//	log.InfoWithFields("Window fetched", map[string]interface{}{
//		"records": len(records),
//	})
//
// Components receive a Logger through their constructors. Tests pass
// NewNopLogger or NewTestLogger, which records messages for assertions.
package logger
