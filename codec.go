package rwconn

import (
	"bytes"
	"database/sql/driver"
	"io"

	"github.com/prashanthpai/rwconn/cache"

	"github.com/klauspost/compress/zlib"
	msgpack "github.com/vmihailenco/msgpack/v4"
)

func itemFromResult(res ResultSet) *cache.Item {
	item := &cache.Item{
		Rows: make([][]driver.Value, len(res)),
	}
	if len(res) > 0 {
		item.Cols = res[0].Columns()
	}

	for i, row := range res {
		vals := make([]driver.Value, len(row.vals))
		for j, v := range row.vals {
			vals[j] = v
		}
		item.Rows[i] = vals
	}

	return item
}

func resultFromItem(item *cache.Item) ResultSet {
	res := make(ResultSet, len(item.Rows))
	cols := newColumns(item.Cols)

	for i, r := range item.Rows {
		vals := make([]interface{}, len(r))
		for j, v := range r {
			vals[j] = canonicalValue(v)
		}
		res[i] = &Row{cols: cols, vals: vals}
	}

	return res
}

// canonicalValue maps decoded numbers back to the driver.Value types
// database/sql produces. uint64 is kept as is so that a cached value has the
// type of the value the driver returned.
func canonicalValue(v interface{}) interface{} {
	switch v := v.(type) {
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case float32:
		return float64(v)
	default:
		return v
	}
}

// encodeResult serializes res with msgpack and compresses it with zlib.
func encodeResult(res ResultSet, level int) ([]byte, error) {
	var buf bytes.Buffer

	zw, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}

	// Non-compact integers keep int64 and uint64 apart on decode.
	enc := msgpack.NewEncoder(zw).UseCompactEncoding(false)
	if err := enc.Encode(itemFromResult(res)); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// decodeResult reverses encodeResult.
func decodeResult(b []byte) (ResultSet, error) {
	zr, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}

	dec := msgpack.NewDecoder(bytes.NewReader(raw))
	dec.UseDecodeInterfaceLoose(true)

	var item cache.Item
	if err := dec.Decode(&item); err != nil {
		return nil, err
	}

	return resultFromItem(&item), nil
}
