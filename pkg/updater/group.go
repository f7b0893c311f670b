package updater

import (
	"errors"
	"fmt"

	"github.com/warpdl/warpstream/pkg/manifest"
)

var (
	ErrNoUpdater = errors.New("no updater for group")
	ErrPaused    = errors.New("updater is paused, resume it first")
	ErrNotPaused = errors.New("updater is not paused")
)

// UpdateState tracks a single bundle download.
type UpdateState int

const (
	UpdateWaiting UpdateState = iota
	UpdateDownloading
	UpdateSuccess
	UpdateFailed
)

func (s UpdateState) String() string {
	switch s {
	case UpdateWaiting:
		return "waiting"
	case UpdateDownloading:
		return "downloading"
	case UpdateSuccess:
		return "success"
	case UpdateFailed:
		return "failed"
	default:
		return fmt.Sprintf("update-state(%d)", int(s))
	}
}

// UpdateInfo is the download record of one bundle.
type UpdateInfo struct {
	Manifest              *manifest.BundleManifestInfo
	State                 UpdateState
	DownloadedBytesLength int64
	Err                   error
}

// Identity returns the bundle identity.
func (u *UpdateInfo) Identity() string { return u.Manifest.Identity() }

// Progress returns the downloaded fraction in [0,1].
func (u *UpdateInfo) Progress() float64 {
	if u.State == UpdateSuccess {
		return 1
	}
	if u.Manifest.Size <= 0 {
		return 0
	}
	p := float64(u.DownloadedBytesLength) / float64(u.Manifest.Size)
	if p > 1 {
		p = 1
	}
	return p
}

// UpdaterState is the state of a GroupUpdater.
type UpdaterState int

const (
	UpdaterFree UpdaterState = iota
	UpdaterRunning
	UpdaterPaused
)

func (s UpdaterState) String() string {
	switch s {
	case UpdaterFree:
		return "free"
	case UpdaterRunning:
		return "running"
	case UpdaterPaused:
		return "paused"
	default:
		return fmt.Sprintf("updater-state(%d)", int(s))
	}
}

// GroupUpdater coordinates the downloads of one group. At most one bundle
// of a group is transferred at a time.
type GroupUpdater struct {
	Group string

	state  UpdaterState
	queue  []*UpdateInfo
	failed []*UpdateInfo
	infos  []*UpdateInfo
}

func newGroupUpdater(group string) *GroupUpdater {
	return &GroupUpdater{Group: group}
}

// State returns the updater state.
func (u *GroupUpdater) State() UpdaterState { return u.state }

// Infos returns every download record known to the updater, in plan order.
func (u *GroupUpdater) Infos() []*UpdateInfo {
	out := make([]*UpdateInfo, len(u.infos))
	copy(out, u.infos)
	return out
}

// Pending returns the number of bundles still to download, failed ones
// included.
func (u *GroupUpdater) Pending() int { return len(u.queue) + len(u.failed) }

// Failed returns the records of failed downloads awaiting Resume.
func (u *GroupUpdater) Failed() []*UpdateInfo {
	out := make([]*UpdateInfo, len(u.failed))
	copy(out, u.failed)
	return out
}

// TotalBytes returns the size of every tracked bundle.
func (u *GroupUpdater) TotalBytes() int64 {
	var n int64
	for _, i := range u.infos {
		n += i.Manifest.Size
	}
	return n
}

// DownloadedBytes returns the bytes received so far over every tracked bundle.
func (u *GroupUpdater) DownloadedBytes() int64 {
	var n int64
	for _, i := range u.infos {
		if i.State == UpdateSuccess {
			n += i.Manifest.Size
		} else {
			n += i.DownloadedBytesLength
		}
	}
	return n
}

// Progress returns the downloaded fraction of the group in [0,1].
func (u *GroupUpdater) Progress() float64 {
	total := u.TotalBytes()
	if total <= 0 {
		if u.Pending() == 0 {
			return 1
		}
		return 0
	}
	p := float64(u.DownloadedBytes()) / float64(total)
	if p > 1 {
		p = 1
	}
	return p
}

// add queues target unless an equal record is already tracked. A record for
// the same identity with a different version is replaced when idle.
func (u *GroupUpdater) add(target *manifest.BundleManifestInfo) {
	id := target.Identity()
	for i, info := range u.infos {
		if info.Identity() != id {
			continue
		}
		if info.Manifest.Equal(target) || info.State == UpdateDownloading {
			return
		}
		fresh := &UpdateInfo{Manifest: target}
		u.infos[i] = fresh
		u.queue = replaceInfo(u.queue, info, fresh)
		if contains(u.failed, info) {
			u.failed = removeInfo(u.failed, info)
			u.queue = append(u.queue, fresh)
		} else if !contains(u.queue, fresh) {
			u.queue = append(u.queue, fresh)
		}
		return
	}
	info := &UpdateInfo{Manifest: target}
	u.infos = append(u.infos, info)
	u.queue = append(u.queue, info)
}

// retain drops idle records whose identity is not in keep.
func (u *GroupUpdater) retain(keep map[string]struct{}) {
	var infos []*UpdateInfo
	for _, info := range u.infos {
		if _, ok := keep[info.Identity()]; ok || info.State == UpdateDownloading {
			infos = append(infos, info)
			continue
		}
		u.queue = removeInfo(u.queue, info)
		u.failed = removeInfo(u.failed, info)
	}
	u.infos = infos
}

// start moves a free updater to Running.
func (u *GroupUpdater) start() error {
	switch u.state {
	case UpdaterPaused:
		return fmt.Errorf("%s: %w", u.Group, ErrPaused)
	case UpdaterFree:
		u.state = UpdaterRunning
	}
	return nil
}

// next pops the next record to download.
func (u *GroupUpdater) next() *UpdateInfo {
	if len(u.queue) == 0 {
		return nil
	}
	info := u.queue[0]
	u.queue[0] = nil
	u.queue = u.queue[1:]
	info.State = UpdateDownloading
	info.DownloadedBytesLength = 0
	info.Err = nil
	return info
}

func (u *GroupUpdater) succeed(info *UpdateInfo) {
	info.State = UpdateSuccess
	info.DownloadedBytesLength = info.Manifest.Size
	info.Err = nil
}

// fail marks info failed and pauses the updater.
func (u *GroupUpdater) fail(info *UpdateInfo, err error) {
	info.State = UpdateFailed
	info.Err = err
	if !contains(u.failed, info) {
		u.failed = append(u.failed, info)
	}
	u.state = UpdaterPaused
}

// settle returns a running updater with nothing left to do to Free.
func (u *GroupUpdater) settle() {
	if u.state == UpdaterRunning && len(u.queue) == 0 && len(u.failed) == 0 {
		u.state = UpdaterFree
	}
}

// Resume requeues the failed records ahead of the remaining queue and
// moves the updater back to Running.
func (u *GroupUpdater) Resume() error {
	if u.state != UpdaterPaused {
		return fmt.Errorf("%s: %w", u.Group, ErrNotPaused)
	}
	requeue := make([]*UpdateInfo, 0, len(u.failed)+len(u.queue))
	for _, info := range u.failed {
		info.State = UpdateWaiting
		info.Err = nil
		info.DownloadedBytesLength = 0
		requeue = append(requeue, info)
	}
	u.queue = append(requeue, u.queue...)
	u.failed = nil
	u.state = UpdaterRunning
	return nil
}

func contains(list []*UpdateInfo, x *UpdateInfo) bool {
	for _, i := range list {
		if i == x {
			return true
		}
	}
	return false
}

func removeInfo(list []*UpdateInfo, x *UpdateInfo) []*UpdateInfo {
	for i, v := range list {
		if v == x {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func replaceInfo(list []*UpdateInfo, old, fresh *UpdateInfo) []*UpdateInfo {
	for i, v := range list {
		if v == old {
			list[i] = fresh
		}
	}
	return list
}
