package storage

import (
	"strings"

	"github.com/sealdb/sealdb/pkg/kv"
)

const (
	rowPrefix   = "table:"
	indexPrefix = "index:"
)

// RowKey returns the physical key of a row.
func RowKey(table, key string) []byte {
	return []byte(rowPrefix + table + ":" + key)
}

// TablePrefix returns the prefix shared by every row of table.
func TablePrefix(table string) []byte {
	return []byte(rowPrefix + table + ":")
}

// tableRange returns the key range scanned to read every row of table.
func tableRange(table string) (start, end []byte) {
	start = TablePrefix(table)
	return start, append(TablePrefix(table), 0xff)
}

// LogicalKey returns the address of a row as seen by callers of the bridge.
func LogicalKey(table, key string) string {
	return table + ":" + key
}

// SplitLogicalKey splits a logical row address into its table and row key.
func SplitLogicalKey(s string) (table, key string, ok bool) {
	table, key, ok = strings.Cut(s, ":")
	return table, key, ok && table != "" && key != ""
}

// rowKeyOf extracts the row key from a physical row key of table.
func rowKeyOf(table string, physical []byte) string {
	return string(physical[len(TablePrefix(table)):])
}

func indexTablePrefix(table string) []byte {
	return []byte(indexPrefix + table + ":")
}

func indexNamePrefix(table, index string) []byte {
	return []byte(indexPrefix + table + ":" + index + ":")
}

// indexKey returns the key of one index entry. The entry value is the row
// key it points to.
func indexKey(table, index, value, key string) []byte {
	return []byte(indexPrefix + table + ":" + index + ":" + value + ":" + key)
}

// indexValueOf extracts the indexed value from an index entry of the given
// row key.
func indexValueOf(prefix []byte, entry kv.Pair) (string, bool) {
	end := len(entry.Key) - len(entry.Value) - 1
	if end < len(prefix) {
		return "", false
	}
	return string(entry.Key[len(prefix):end]), true
}

// KeyRange is a half open range of physical keys.
type KeyRange struct {
	Start, End []byte
}

// ShardRanges splits the rows of table into n contiguous ranges on the first
// byte of the row key. Reading the ranges in order visits the rows in key
// order.
func ShardRanges(table string, n int) []KeyRange {
	n = min(max(n, 1), 255)
	start, end := tableRange(table)
	ranges := make([]KeyRange, 0, n)
	lo := start
	for i := 1; i <= n; i++ {
		hi := end
		if i < n {
			hi = append(TablePrefix(table), byte(i*255/n))
		}
		ranges = append(ranges, KeyRange{Start: lo, End: hi})
		lo = hi
	}
	return ranges
}
