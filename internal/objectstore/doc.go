// Package objectstore is the object store gateway: download referenced
// spreadsheets, documents, and images, and archive originals, headers, and
// answer results under the exam path convention.
//
// Key layout:
//
//	original/{exam}/{studentId}/{file}   resolved, or unknown_id when unresolved
//	header/{exam}/unknown_id/{file}      header crop for human correction
//	answer/{exam}/{studentId}/result.json
//
// Backends: S3 for production and a local filesystem tree for development.
// Memory is an in-process implementation used by tests.
package objectstore
