// Package logging provides structured JSON logging for quill.
//
// Log entries are written with log/slog's JSON handler to {dir}/quill.log,
// or to stderr when no directory is configured. Child loggers carry
// persistent attributes so every line emitted while a tournament or pass
// sequence runs can be correlated:
//
//	logger, err := logging.NewLoggerWithRotation(dir, "info", logging.DefaultRotationConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	l := logger.WithWorkflow(wfID).WithPhase("tournament")
//	l.Info("submitted", "scene_id", sceneID, "agents", len(agents))
//	l.WithJob(jobID).Debug("poll", "status", status)
//
// # Levels
//
// DEBUG, INFO, WARN and ERROR are supported. Unknown level strings fall
// back to INFO.
//
// # Rotation
//
// RotatingWriter rotates quill.log once it would exceed MaxSizeMB,
// keeping MaxBackups numbered copies (quill.log.1 is the newest).
//
// # Testing
//
// NopLogger discards everything and is the default for components that
// are constructed without a logger.
package logging
