// Package roster extracts the list of valid student identifiers from an
// attendance spreadsheet.
//
// The parser searches the top-left corner of the first sheet (50 rows by 20
// columns) for a student-number header cell, then reads the column below it.
// Only eight-digit values are kept; extraction stops after five consecutive
// empty or invalid cells, or after 10000 rows. Duplicates are removed while
// preserving first-seen order.
//
// Both .xlsx (via excelize) and .csv files are accepted.
package roster
