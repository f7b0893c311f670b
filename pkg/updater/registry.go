package updater

import "sort"

// VersionCheckResult is the outcome of one version check.
type VersionCheckResult struct {
	// Err is set when a manifest could not be read or parsed. The check can
	// be retried as a whole.
	Err         error
	UpdateCount int
	UpdateBytes int64
	// Updaters lists the group updaters with outstanding work.
	Updaters []*GroupUpdater
	Infos    []*CheckInfo
}

// Registry owns the GroupUpdaters, keyed by group. Updaters are created on
// first use and persist across checks until Clear.
type Registry struct {
	updaters map[string]*GroupUpdater
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{updaters: make(map[string]*GroupUpdater)}
}

// Get returns the updater of group.
func (r *Registry) Get(group string) (*GroupUpdater, bool) {
	u, ok := r.updaters[group]
	return u, ok
}

func (r *Registry) getOrCreate(group string) *GroupUpdater {
	if u, ok := r.updaters[group]; ok {
		return u
	}
	u := newGroupUpdater(group)
	r.updaters[group] = u
	return u
}

// Sync queues every NeedUpdate bundle of infos on its group's updater and
// drops idle records that no longer need updating from the updaters of the
// checked groups. It returns the checked groups' updaters with outstanding
// work, sorted by group.
func (r *Registry) Sync(infos []*CheckInfo) []*GroupUpdater {
	keep := make(map[string]map[string]struct{})
	for _, c := range infos {
		g := c.Group()
		if keep[g] == nil {
			keep[g] = make(map[string]struct{})
		}
		if c.State != NeedUpdate {
			continue
		}
		keep[g][c.Name] = struct{}{}
		r.getOrCreate(g).add(c.Remote)
	}
	for g, ids := range keep {
		if u, ok := r.updaters[g]; ok {
			u.retain(ids)
		}
	}

	var out []*GroupUpdater
	for _, u := range r.All() {
		if _, checked := keep[u.Group]; checked && u.Pending() > 0 {
			out = append(out, u)
		}
	}
	return out
}

// downloading reports whether the updater of group is transferring id.
func (r *Registry) downloading(group, id string) bool {
	u, ok := r.updaters[group]
	if !ok {
		return false
	}
	for _, info := range u.infos {
		if info.State == UpdateDownloading && info.Identity() == id {
			return true
		}
	}
	return false
}

// All returns every updater sorted by group.
func (r *Registry) All() []*GroupUpdater {
	out := make([]*GroupUpdater, 0, len(r.updaters))
	for _, u := range r.updaters {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Group < out[j].Group })
	return out
}

// UpdateInfos returns the records of every updater, grouped by updater.
func (r *Registry) UpdateInfos() []*UpdateInfo {
	var out []*UpdateInfo
	for _, u := range r.All() {
		out = append(out, u.infos...)
	}
	return out
}

// Clear forgets every updater that is not running. It returns the groups
// that were kept.
func (r *Registry) Clear() []string {
	var kept []string
	for g, u := range r.updaters {
		if u.state == UpdaterRunning {
			kept = append(kept, g)
			continue
		}
		delete(r.updaters, g)
	}
	sort.Strings(kept)
	return kept
}
