package cache

// tagIndex maps a tag to the set of keys carrying it. It holds key strings
// only; entry data lives in the Store. Buckets are never left empty.
type tagIndex map[string]map[string]struct{}

func (ti tagIndex) attach(key string, tags []string) {
	for _, tag := range tags {
		bucket, ok := ti[tag]
		if !ok {
			bucket = make(map[string]struct{})
			ti[tag] = bucket
		}
		bucket[key] = struct{}{}
	}
}

// detach removes key from each tag bucket and prunes emptied buckets. It
// returns the tags whose bucket did not contain key, which means the index
// had drifted from the entry store.
func (ti tagIndex) detach(key string, tags []string) (missing []string) {
	for _, tag := range tags {
		bucket, ok := ti[tag]
		if !ok {
			missing = append(missing, tag)
			continue
		}
		if _, ok := bucket[key]; !ok {
			missing = append(missing, tag)
			continue
		}
		delete(bucket, key)
		if len(bucket) == 0 {
			delete(ti, tag)
		}
	}
	return missing
}

// union returns the distinct keys carrying any of tags.
func (ti tagIndex) union(tags []string) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, tag := range tags {
		for key := range ti[tag] {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	return keys
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
