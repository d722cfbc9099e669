package rwconn

import (
	"crypto/sha1"
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/mitchellh/hashstructure/v2"
)

// Result shapes are part of the cache key so that FetchAll and FetchOne of
// the same query never read each other's entries.
const (
	shapeAll = "all"
	shapeOne = "one"
)

func sqlDigest(sqlText string) string {
	sum := sha1.Sum([]byte(sqlText))
	return hex.EncodeToString(sum[:])
}

// typedParam makes values of different types hash differently even when
// they look the same, e.g. int64(1) and "1".
type typedParam struct {
	Type  string
	Value interface{}
}

func hashableParam(p interface{}) (interface{}, error) {
	if v, ok := p.(driver.Valuer); ok {
		dv, err := v.Value()
		if err != nil {
			return nil, err
		}
		p = dv
	}

	switch v := p.(type) {
	case time.Time:
		return typedParam{Type: "time.Time", Value: v.UTC().Format(time.RFC3339Nano)}, nil
	case *time.Time:
		if v == nil {
			return typedParam{Type: "nil"}, nil
		}
		return typedParam{Type: "time.Time", Value: v.UTC().Format(time.RFC3339Nano)}, nil
	case nil:
		return typedParam{Type: "nil"}, nil
	default:
		return typedParam{Type: fmt.Sprintf("%T", p), Value: p}, nil
	}
}

// paramsDigest hashes every parameter on its own and then the ordered list
// of hashes, so no parameter value can make two different lists collide the
// way joining them with a separator would.
func paramsDigest(params []interface{}) (string, error) {
	hashes := make([]uint64, len(params))
	for i, p := range params {
		hp, err := hashableParam(p)
		if err != nil {
			return "", fmt.Errorf("param %d: %w", i, err)
		}

		h, err := hashstructure.Hash(hp, hashstructure.FormatV2, nil)
		if err != nil {
			return "", fmt.Errorf("param %d: %w", i, err)
		}
		hashes[i] = h
	}

	u64, err := hashstructure.Hash(hashes, hashstructure.FormatV2, nil)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("a%dh%s", len(params), strconv.FormatUint(u64, 10)), nil
}

// cacheKey derives the cache key of a read call:
//
//	<sha1 of sqlText>:<params digest>:<compression level>:<shape>
func cacheKey(sqlText string, params []interface{}, level int, shape string) (string, error) {
	pd, err := paramsDigest(normalizeParams(params))
	if err != nil {
		return "", err
	}

	return sqlDigest(sqlText) + ":" + pd + ":" + strconv.Itoa(level) + ":" + shape, nil
}

// QueryPattern returns the ClearCache pattern matching every cached result
// of sqlText, whatever the parameters.
func QueryPattern(sqlText string) string {
	return sqlDigest(sqlText) + ":*"
}
