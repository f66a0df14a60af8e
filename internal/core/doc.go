// Package core implements company registry CSV ingestion.
//
// This package holds all domain logic independent of any transport or
// database driver. Web handlers, CLI tools and tests use it unchanged;
// persistence is reached only through [CompanyStore].
//
// # Pipeline
//
// [Pipeline.Ingest] processes one upload end to end:
//
//  1. Format guard: .csv extension and [PipelineConfig.MaxFileSize]
//  2. Decode: UTF-8 (BOM stripped), else Windows-1251, see [DecodeText]
//  3. Delimiter: ';' when it outnumbers ',' in the header line, see [DetectDelimiter]
//  4. Header: repeated names become "name_2", "name_3", see [DisambiguateHeaders]
//  5. Row fold: [FieldMapping] -> [Coerce] -> [RowValidator] -> [DedupResolver]
//  6. Commit: one atomic [CompanyStore.CommitBatch]
//  7. Summary: [IngestionResult]
//
// Steps 1-2 and 6 fail the whole file with an [IngestionError]. Row level
// problems are recorded in [IngestionResult.Skipped] with a [SkipReason], and
// every processed row is either saved or skipped exactly once.
//
// # Field Mapping
//
// Headers are matched to canonical fields by alias: exact, then case and
// whitespace insensitive, then substring. The leftmost matching column wins.
// The default alias table can be replaced per field from a JSON file, see
// [LoadFieldMapping].
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - DB001-DB010: Database errors (uniqueness, connections, commit)
//   - VAL001-VAL002: Validation errors (INN, company updates)
//   - FILE001-FILE005: File errors (size, type, encoding, empty)
//   - UPL002-UPL005: Upload errors (busy, cancelled, timeout)
package core
