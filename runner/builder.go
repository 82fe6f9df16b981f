package runner

import (
	"github.com/ethereum-optimism/infra/ut-runner/types"
)

// BuildRecords flattens the items announced by a pre-run event into result records.
// Within each node the records of its suites come first, recursively, followed by
// its direct tests, all in declaration order. Nil nodes and empty collections are
// skipped. Every call returns freshly allocated records.
func BuildRecords(items *types.Items) []*types.ResultRecord {
	records := make([]*types.ResultRecord, 0, items.CountTests())
	return appendRecords(records, items, nil)
}

func appendRecords(records []*types.ResultRecord, items *types.Items, suitePath []string) []*types.ResultRecord {
	if items == nil {
		return records
	}
	for _, suite := range items.Suites {
		if suite == nil {
			continue
		}
		// full slice expression so siblings never share a backing array
		path := append(suitePath[:len(suitePath):len(suitePath)], suiteLabel(suite))
		records = appendRecords(records, suite.Items, path)
	}
	for _, test := range items.Tests {
		if test == nil {
			continue
		}
		records = append(records, types.NewResultRecord(test, suitePath))
	}
	return records
}

func suiteLabel(s *types.Suite) string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}
