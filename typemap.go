package main

import "strings"

// integer-family keywords, checked before the text family so "bigint" never
// falls through to TEXT.
var integerKeywords = []string{"bigint", "smallint", "mediumint", "tinyint", "int"}

var textKeywords = []string{"char", "varchar", "text", "enum", "set"}

var realKeywords = []string{"float", "double", "decimal", "numeric"}

var temporalKeywords = []string{"datetime", "timestamp", "date", "time", "year"}

var blobKeywords = []string{"blob", "binary", "varbinary", "bit"}

// mapType maps a raw MySQL column type to a SQLite storage class.
// Matching is case-insensitive substring, first match wins. Unknown types
// never fail translation; they degrade to TEXT so an exotic column cannot
// abort a migration.
func mapType(rawType string) TargetType {
	t := strings.ToLower(strings.TrimSpace(rawType))

	// tinyint(1) is MySQL's boolean convention
	if strings.Contains(t, "tinyint(1)") {
		return TypeInteger
	}
	if containsAny(t, integerKeywords) {
		return TypeInteger
	}
	if containsAny(t, textKeywords) {
		return TypeText
	}
	if strings.Contains(t, "json") {
		return TypeText
	}
	if containsAny(t, realKeywords) {
		return TypeReal
	}
	if strings.Contains(t, "bool") {
		return TypeInteger
	}
	// D1 stores temporal values as formatted text, there is no native type
	if containsAny(t, temporalKeywords) {
		return TypeText
	}
	if containsAny(t, blobKeywords) {
		return TypeBlob
	}
	return TypeText
}

// isTemporalType reports whether a raw MySQL type belongs to the
// date/time family. Used by the value encoder to disambiguate string values.
func isTemporalType(rawType string) bool {
	return containsAny(strings.ToLower(rawType), temporalKeywords)
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
