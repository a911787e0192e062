package pipeline

// AggregateRanges folds newest-first push events into one CommitRange per
// (repository, ref), in order of first appearance. The first event seen for
// a key fixes New; each later one moves Old back to that push's Before.
func AggregateRanges(events []PushEvent) []CommitRange {
	index := make(map[RangeKey]int)
	ranges := []CommitRange{}
	for _, ev := range events {
		key := RangeKey{Repo: ev.Repo, Ref: ev.Ref}
		if i, ok := index[key]; ok {
			ranges[i].Old = ev.Before
			continue
		}
		index[key] = len(ranges)
		ranges = append(ranges, CommitRange{
			Repo: ev.Repo,
			Ref:  ev.Ref,
			Old:  ev.Before,
			New:  ev.Head,
		})
	}
	return ranges
}
