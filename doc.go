// Package crystaldata is the composition root of CrystalData, an embeddable
// object persistence engine.
//
// A Crystal wraps one root object and persists it through a Filer, advancing
// its waypoint (journal position and content hash) on every save. Changes
// made between saves can be written to the shared write-ahead journal and
// are replayed on the next load. Child objects too large to keep resident
// live in a Storage as StorageData and are evicted by the memory control
// once the configured limit is exceeded.
//
// Features:
//
//   - **Atomic Saves**: files are replaced through temp files and renames, with
//     numbered history copies and an optional backup directory.
//   - **Write-Ahead Journal**: records are addressed by position, sealed into
//     books and discarded once every waypoint moved past them.
//   - **Memory Control**: LRU eviction with per-type size estimates and a
//     bounded number of concurrent unloads.
//   - **Recovery Queries**: missing or inconsistent data is escalated to the
//     application instead of being discarded silently.
//
// Usage:
//
//	cz, err := crystaldata.New("./data", crystaldata.WithLogger(logger))
//	c, err := crystaldata.Register[Settings](cz, "", crystaldata.Configuration{
//		Path:   "settings.json",
//		Format: crystaldata.FormatUtf8,
//	})
//	err = cz.PrepareAndLoadAll(ctx, true)
//	err = c.Update(ctx, func(s *Settings) error { s.Name = "crystal"; return nil })
//	err = cz.Shutdown(ctx)
package crystaldata
