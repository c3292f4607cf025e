package planner

const gigabyte = int64(1) << 30

// sizingTier maps an estimated table size to a recommended hash
// subpartition count and parallel degree.
type sizingTier struct {
	upTo     int64
	subparts int
	parallel int
}

var sizingTiers = []sizingTier{
	{upTo: 10 * gigabyte, subparts: 4, parallel: 2},
	{upTo: 50 * gigabyte, subparts: 8, parallel: 4},
	{upTo: 100 * gigabyte, subparts: 12, parallel: 4},
}

// Recommend returns the default hash subpartition count and parallel degree
// for a table of the given size. Explicit user values always win over these
// defaults; Recommend is only consulted when the request leaves them unset.
func Recommend(sizeBytes int64) (subparts, parallel int) {
	for _, tier := range sizingTiers {
		if sizeBytes < tier.upTo {
			return tier.subparts, tier.parallel
		}
	}
	return 16, 8
}
