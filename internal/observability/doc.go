// Package observability provides logging and metrics support for the
// research feed ingestion service.
//
// # Logging
//
// Create a logger from configuration:
//
//	logger := observability.NewLogger(observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	})
//	logger = observability.WithRunContext(logger, runID)
//	logger.Info().Str("source_name", src.Name).Msg("source fetched")
//
// # Metrics
//
//	metrics := observability.NewMetrics("feedingest")
//	metrics.RecordEntry("article", "created")
//	metrics.RecordRunCompleted("success", elapsed.Seconds())
//
// # Standard Fields
//
//   - run_id: ingestion run identifier
//   - source_id, source_name, kind: the configured feed being processed
//   - entry_title, entry_link: the raw feed entry being normalized
//   - entity_type, entity_id: the persisted article or trial
//   - category: failure category (fetch, parse, enrichment, integrity, ambiguous)
//
// All components are safe for concurrent use from multiple goroutines.
package observability
