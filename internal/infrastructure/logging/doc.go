// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output on stderr for machine parsing
//   - Development: colored console output for human readability
//
// Components receive a *Logger at construction and derive named children:
//
//	log := logging.NewDefault().Named("workspace")
//	log.Info("workspace opened", zap.String("workspace_id", ws.ObjectID))
//	log.Warn("restore failed, falling back to selection", zap.Error(err))
package logging
