// Package directory downloads and decodes the entity directory published by the
// disclosure service.
//
// The directory is a compressed XML document listing every registered company.
// The package defines the Source interface used by the ingestion orchestrator
// and the Downloader implementation, which keeps the last good payload in an
// on-disk cache so a failed download can still produce a usable entity list.
//
// Architecture:
//   - Source: Interface returning the full entity list
//   - Downloader: HTTP implementation with retry, TTL cache and stale-cache fallback
//   - Parse: Decodes a zip or raw XML payload into entities
//   - ListedOnly: Filters the list down to entities that carry a trading code
package directory
