/*
Package log provides a zerolog-backed global logger shared by every
component. Init configures level and output format once at startup;
WithComponent/WithNodeID/WithVolumeID/WithPoolID derive child loggers that
tag their output with the entity a log line is about, so a single volume
or node's history can be grepped out of mixed JSON logs.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	logger := log.WithVolumeID(v.UUID)
	logger.Info().Str("state", string(v.State)).Msg("volume reconciled")

cmd/csi-controller sets JSONOutput from a CLI flag; node sync loops and the
volume reconciler each derive their own component logger rather than
logging through the bare global Logger.
*/
package log
