// Package extract discovers staged detection files and streams their rows.
//
// Discover lists the staging directory once, drops processed files and files
// excluded by the source-type filter, and yields the rest oldest first.
// Parse opens a file only when iteration reaches it and yields one candidate
// row at a time, so memory stays flat regardless of file size.
//
// Errors follow the loader's taxonomy. A header without the required columns
// yields a *detloader.SchemaError and an unreadable file yields a
// *detloader.FileError; both end the file's iteration. A malformed row yields
// a *detloader.ParseError and parsing continues with the next row.
package extract
