package syncobj

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dd0wney/cluso-lockstep/pkg/logging"
)

// transform is a minimal sync object holding a single string value
type transform struct {
	id      string
	value   string
	active  bool
	dirty   bool
	applied int
	reject  bool
}

func newTransform(id, value string) *transform {
	return &transform{id: id, value: value, active: true, dirty: true}
}

func (t *transform) GetID() string             { return t.id }
func (t *transform) IsActive() bool            { return t.active }
func (t *transform) IsDirty() bool             { return t.dirty }
func (t *transform) ClearDirty()               { t.dirty = false }
func (t *transform) SerializeToString() string { return t.value }

func (t *transform) DeserializeFromString(data string) bool {
	if t.reject {
		return false
	}
	t.value = data
	t.applied++
	return true
}

func TestRegister(t *testing.T) {
	r := NewRegistry(logging.NewNopLogger())

	a := newTransform("camera", "0,0,0")
	if err := r.Register(a, GroupTick); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	dup := newTransform("camera", "1,1,1")
	if err := r.Register(dup, GroupTick); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("duplicate Register = %v, want ErrDuplicateID", err)
	}
	// The same id is allowed in a different group
	if err := r.Register(dup, GroupPostTick); err != nil {
		t.Errorf("Register in other group failed: %v", err)
	}

	if err := r.Register(newTransform("", ""), GroupTick); err != ErrEmptyID {
		t.Errorf("empty id Register = %v", err)
	}
	if err := r.Register(nil, GroupTick); err != ErrNilObject {
		t.Errorf("nil Register = %v", err)
	}
	if err := r.Register(newTransform("x", ""), Group(9)); err != ErrUnknownGroup {
		t.Errorf("bad group Register = %v", err)
	}

	if r.Count(GroupTick) != 1 || r.Count(GroupPostTick) != 1 || r.Count(GroupPreTick) != 0 {
		t.Errorf("unexpected counts %d/%d/%d", r.Count(GroupPreTick), r.Count(GroupTick), r.Count(GroupPostTick))
	}
}

func TestUnregisterSearchesAllGroups(t *testing.T) {
	r := NewRegistry(nil)
	obj := newTransform("light", "on")
	_ = r.Register(obj, GroupPreTick)
	_ = r.Register(obj, GroupPostTick)

	if !r.Unregister(obj) {
		t.Fatal("Unregister should report removal")
	}
	for _, g := range Groups {
		if r.Count(g) != 0 {
			t.Errorf("%s still holds %d objects", g, r.Count(g))
		}
	}
	if r.Unregister(obj) {
		t.Error("second Unregister should report nothing removed")
	}
}

func TestUnregisterLeavesOtherObjectWithSameID(t *testing.T) {
	r := NewRegistry(nil)
	a := newTransform("same", "a")
	b := newTransform("same", "b")
	_ = r.Register(a, GroupPreTick)
	_ = r.Register(b, GroupTick)

	r.Unregister(a)
	if r.Count(GroupTick) != 1 {
		t.Error("unregistering a should not remove b")
	}
}

func TestExportOnlyActiveDirty(t *testing.T) {
	r := NewRegistry(nil)

	dirty := newTransform("dirty", "d")
	clean := newTransform("clean", "c")
	clean.dirty = false
	inactive := newTransform("inactive", "i")
	inactive.active = false

	for _, o := range []*transform{dirty, clean, inactive} {
		_ = r.Register(o, GroupTick)
	}

	data := r.ExportSyncData(GroupTick)
	if len(data) != 1 || data["dirty"] != "d" {
		t.Fatalf("ExportSyncData = %v, want {dirty:d}", data)
	}
	if dirty.IsDirty() {
		t.Error("exported object should be clean")
	}
	if !inactive.IsDirty() {
		t.Error("inactive object should keep its dirty flag")
	}

	if again := r.ExportSyncData(GroupTick); len(again) != 0 {
		t.Errorf("second export should be empty, got %v", again)
	}
}

func TestSyncRoundTrip(t *testing.T) {
	primary := NewRegistry(nil)
	secondary := NewRegistry(nil)

	src := newTransform("actor_7", "12.5,3.0,-1.25")
	clone := newTransform("actor_7", "0,0,0")
	clone.dirty = false
	_ = primary.Register(src, GroupPreTick)
	_ = secondary.Register(clone, GroupPreTick)

	data := primary.ExportSyncData(GroupPreTick)
	if data["actor_7"] != src.SerializeToString() {
		t.Fatalf("export = %v", data)
	}
	if src.IsDirty() {
		t.Error("source should be clean after export")
	}

	report := secondary.ImportSyncData(GroupPreTick, data)
	if report.Applied != 1 || len(report.Failed) != 0 {
		t.Errorf("report = %+v", report)
	}
	if clone.value != src.value || clone.applied != 1 {
		t.Errorf("clone value = %q applied %d", clone.value, clone.applied)
	}
}

func TestSelectiveImport(t *testing.T) {
	r := NewRegistry(nil)
	obj := newTransform("untouched", "original")
	_ = r.Register(obj, GroupTick)

	report := r.ImportSyncData(GroupTick, map[string]string{"someone_else": "x"})
	if obj.value != "original" || obj.applied != 0 {
		t.Errorf("object without an entry was modified: %q", obj.value)
	}
	if report.Unknown != 1 {
		t.Errorf("report.Unknown = %d, want 1", report.Unknown)
	}

	// A matching entry in another group does not apply either
	r.ImportSyncData(GroupPostTick, map[string]string{"untouched": "x"})
	if obj.applied != 0 {
		t.Error("import into another group reached the object")
	}
}

func TestImportFailureDoesNotAbortBatch(t *testing.T) {
	r := NewRegistry(nil)
	objs := make([]*transform, 5)
	data := make(map[string]string)
	for i := range objs {
		objs[i] = newTransform(fmt.Sprintf("obj_%d", i), "")
		_ = r.Register(objs[i], GroupTick)
		data[objs[i].id] = fmt.Sprintf("v%d", i)
	}
	objs[2].reject = true

	report := r.ImportSyncData(GroupTick, data)
	if report.Applied != 4 {
		t.Errorf("Applied = %d, want 4", report.Applied)
	}
	if len(report.Failed) != 1 || report.Failed[0] != "obj_2" {
		t.Errorf("Failed = %v, want [obj_2]", report.Failed)
	}
	for i, o := range objs {
		if i == 2 {
			continue
		}
		if o.value != fmt.Sprintf("v%d", i) {
			t.Errorf("%s = %q", o.id, o.value)
		}
	}
}

func TestParseGroup(t *testing.T) {
	for _, g := range Groups {
		got, err := ParseGroup(g.String())
		if err != nil || got != g {
			t.Errorf("ParseGroup(%q) = %v, %v", g.String(), got, err)
		}
	}
	if _, err := ParseGroup("Render"); err != ErrUnknownGroup {
		t.Errorf("ParseGroup(Render) error = %v", err)
	}
}
