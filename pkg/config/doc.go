// Package config loads service configuration and course catalogs.
//
// AppConfig is read from an optional YAML file, overridden from BOO_* and
// LOG_LEVEL environment variables and validated with struct tags.
//
// Catalogs list courses and their prerequisites by name. CatalogParser reads
// them from CUE, YAML or JSON and checks them against a CUE schema before
// decoding; Seed then creates them through the engine coordinator,
// prerequisites first:
//
//	parser := config.NewCatalogParser()
//	catalog, err := parser.LoadCatalog(ctx, "courses.cue")
//	if err != nil {
//		return err
//	}
//	result, err := config.Seed(ctx, coordinator, catalog, config.SeedOptions{Source: "courses.cue"})
//
// A computer science catalog is embedded and available from BuiltinCatalog.
package config
