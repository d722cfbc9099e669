package rwconn

import (
	"regexp"
	"strconv"
	"time"
)

var (
	attrRegexp = regexp.MustCompile(`@cache-(ttl|max-rows|skip)\b(?:[ \t]+(\d+))?`)
)

// attributes are the cache attributes found in SQL comments:
//
//	-- @cache-ttl 30
//	-- @cache-max-rows 100
//	-- @cache-skip
type attributes struct {
	ttl     time.Duration
	maxRows int
	skip    bool
}

func getAttrs(query string) attributes {
	var attrs attributes
	for _, match := range attrRegexp.FindAllStringSubmatch(query, -1) {
		switch match[1] {
		case "ttl":
			if ttl, err := strconv.Atoi(match[2]); err == nil && ttl > 0 {
				attrs.ttl = time.Duration(ttl) * time.Second
			}
		case "max-rows":
			if maxRows, err := strconv.Atoi(match[2]); err == nil && maxRows > 0 {
				attrs.maxRows = maxRows
			}
		case "skip":
			attrs.skip = true
		}
	}

	return attrs
}
