package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/guidecam/internal/config"
	"github.com/andresmejia3/guidecam/internal/corpus"
	"github.com/andresmejia3/guidecam/internal/feedback"
	"github.com/andresmejia3/guidecam/internal/types"
	"github.com/andresmejia3/guidecam/internal/worker"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fakeEngine answers by image content.
type fakeEngine struct {
	poses    map[string]types.PoseEstimate
	features map[string]types.FeatureVector
	fail     bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{poses: map[string]types.PoseEstimate{}, features: map[string]types.FeatureVector{}}
}

func (f *fakeEngine) InferPose(_ context.Context, data []byte) (types.PoseEstimate, error) {
	p, ok := f.poses[string(data)]
	if f.fail || !ok {
		return types.PoseEstimate{}, &worker.InferenceError{Op: "pose", Msg: "no person"}
	}
	return p, nil
}

func (f *fakeEngine) InferFeature(_ context.Context, data []byte) (types.FeatureVector, error) {
	v, ok := f.features[string(data)]
	if f.fail || !ok {
		return nil, &worker.InferenceError{Op: "feature", Msg: "bad image"}
	}
	return v, nil
}

func (f *fakeEngine) Close() {}

// memImages is an in-memory ImageStore.
type memImages struct {
	frames    map[string]types.Frame
	saved     int
	saveErr   error
	removeErr error
}

func (m *memImages) Load(id string) (types.Frame, error) {
	f, ok := m.frames[id]
	if !ok {
		return types.Frame{}, os.ErrNotExist
	}
	return f, nil
}

func (m *memImages) Save(frame types.Frame) (string, error) {
	if m.saveErr != nil {
		return "", m.saveErr
	}
	m.saved++
	id := fmt.Sprintf("db_images/capture_%d.jpg", m.saved)
	m.frames[id] = frame
	return id, nil
}

func (m *memImages) Remove(id string) error {
	if m.removeErr != nil {
		return m.removeErr
	}
	delete(m.frames, id)
	return nil
}

func jpegFrame(t *testing.T, shade uint8) types.Frame {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 48))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	img.SetGray(0, 0, color.Gray{Y: shade ^ 0xFF})
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return types.Frame{JPEG: buf.Bytes(), Width: 64, Height: 48}
}

func upright(headY float64) types.PoseEstimate {
	var p types.PoseEstimate
	for i := range p {
		p[i] = types.Keypoint{Y: 0.5, X: 0.5, Confidence: 0.9}
	}
	for _, k := range types.HeadKeypoints {
		p[k].Y = headY
	}
	p[types.LeftShoulder].X = 0.4
	p[types.RightShoulder].X = 0.6
	return p
}

type fixture struct {
	ctrl   *Controller
	engine *fakeEngine
	images *memImages
	db     *corpus.DB
	guides []types.Frame
}

// newFixture builds a corpus of three guides A, B, C with orthogonal-ish vectors.
func newFixture(t *testing.T, policy config.AddPolicy) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := corpus.Open(ctx, corpus.NewFilePersister(filepath.Join(t.TempDir(), "feature_db.gob"), nil), nil)
	if err != nil {
		t.Fatal(err)
	}

	f := &fixture{engine: newFakeEngine(), images: &memImages{frames: map[string]types.Frame{}}, db: db}
	vecs := []types.FeatureVector{{1, 0, 0}, {0, 1, 0}, {1, 1, 0}}
	var recs []corpus.Record
	for i, v := range vecs {
		id := fmt.Sprintf("db_images/%04d.jpg", i+1)
		frame := jpegFrame(t, uint8(40*(i+1)))
		f.guides = append(f.guides, frame)
		f.images.frames[id] = frame
		f.engine.poses[string(frame.JPEG)] = upright(0.3)
		recs = append(recs, corpus.Record{ID: id, Vector: v})
	}
	if err := db.Replace(ctx, recs); err != nil {
		t.Fatal(err)
	}

	opts := OptionsFromConfig(config.DefaultConfig())
	opts.AddPolicy = policy
	f.ctrl = NewController(db, f.engine, f.images, opts, nil)
	return f
}

// guide walks the controller from Searching into Guiding on guide B.
func (f *fixture) guide(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	f.ctrl.Handle(ctx, Search{Query: types.FeatureVector{0, 1, 0}})
	f.ctrl.Handle(ctx, SelectGuide{Index: 0})
	f.ctrl.Handle(ctx, Confirm{})
	f.ctrl.Handle(ctx, StartGuiding{})
	if _, ok := f.ctrl.State().(Guiding); !ok {
		t.Fatalf("expected Guiding, got %s", f.ctrl.State().Name())
	}
}

func TestSelectGuideOnEmptyResultsIsNoop(t *testing.T) {
	f := newFixture(t, config.PolicyTrust)
	out := f.ctrl.Handle(context.Background(), SelectGuide{Index: 2})

	if diff := cmp.Diff(State(Searching{}), f.ctrl.State()); diff != "" {
		t.Errorf("state changed (-want +got):\n%s", diff)
	}
	if out != (Outcome{}) {
		t.Errorf("expected empty outcome, got %+v", out)
	}
}

func TestSearchEmptyDatabase(t *testing.T) {
	ctx := context.Background()
	db, err := corpus.Open(ctx, corpus.NewFilePersister(filepath.Join(t.TempDir(), "db.gob"), nil), nil)
	if err != nil {
		t.Fatal(err)
	}
	ctrl := NewController(db, newFakeEngine(), &memImages{frames: map[string]types.Frame{}}, OptionsFromConfig(config.DefaultConfig()), nil)

	out := ctrl.Handle(ctx, Search{Query: types.FeatureVector{1}})
	if out.Notice != "database is empty" {
		t.Errorf("notice = %q", out.Notice)
	}
	if s, ok := ctrl.State().(Searching); !ok || len(s.Results) != 0 {
		t.Errorf("expected Searching{empty}, got %+v", ctrl.State())
	}
}

func TestSearchRanksExactMatchFirst(t *testing.T) {
	f := newFixture(t, config.PolicyTrust)
	out := f.ctrl.Handle(context.Background(), Search{Query: types.FeatureVector{0, 1, 0}})

	s, ok := f.ctrl.State().(Searching)
	if !ok || len(s.Results) != 3 {
		t.Fatalf("expected 3 results, got %+v", f.ctrl.State())
	}
	if s.Results[0].ID != "db_images/0002.jpg" || s.Results[0].Distance != 0 {
		t.Errorf("unexpected first result %+v", s.Results[0])
	}
	if out.Notice != "3 guides found" {
		t.Errorf("notice = %q", out.Notice)
	}

	// A wrong-dimension query leaves the results alone.
	out = f.ctrl.Handle(context.Background(), Search{Query: types.FeatureVector{1, 0}})
	if out.Notice != noticeUnavailable {
		t.Errorf("notice = %q", out.Notice)
	}
	if got := f.ctrl.State().(Searching); len(got.Results) != 3 {
		t.Errorf("results replaced after failed search: %+v", got)
	}
}

func TestGuideFlow(t *testing.T) {
	f := newFixture(t, config.PolicyTrust)
	ctx := context.Background()

	f.ctrl.Handle(ctx, Search{Query: types.FeatureVector{0, 1, 0}})
	out := f.ctrl.Handle(ctx, SelectGuide{Index: 0})
	sel, ok := f.ctrl.State().(GuideSelected)
	if !ok {
		t.Fatalf("expected GuideSelected, got %s", f.ctrl.State().Name())
	}
	if sel.Candidate.Result.ID != "db_images/0002.jpg" || out.Notice != "selected db_images/0002.jpg" {
		t.Errorf("unexpected candidate %+v (%q)", sel.Candidate.Result, out.Notice)
	}

	f.ctrl.Handle(ctx, Confirm{})
	conf, ok := f.ctrl.State().(GuideConfirmed)
	if !ok {
		t.Fatalf("expected GuideConfirmed, got %s", f.ctrl.State().Name())
	}
	if !conf.Target.Extent.Valid || conf.Target.Thumbnail == nil {
		t.Errorf("target incomplete: %+v", conf.Target.Extent)
	}
	if b := conf.Target.Thumbnail.Bounds(); b.Dx() != 160 || b.Dy() != 120 {
		t.Errorf("thumbnail size %v", b)
	}

	f.ctrl.Handle(ctx, StartGuiding{})
	if _, ok := f.ctrl.State().(Guiding); !ok {
		t.Fatalf("expected Guiding, got %s", f.ctrl.State().Name())
	}

	// Head lower in the live frame than in the guide.
	live := jpegFrame(t, 250)
	f.engine.poses[string(live.JPEG)] = upright(0.42)
	fb := f.ctrl.Observe(ctx, live)
	if fb.Orientation != feedback.TiltHeadUp || fb.Position != feedback.MoveBack || fb.Live == nil {
		t.Errorf("unexpected feedback %v / %v", fb.Orientation, fb.Position)
	}

	aligned := jpegFrame(t, 200)
	f.engine.poses[string(aligned.JPEG)] = upright(0.3)
	fb = f.ctrl.Observe(ctx, aligned)
	if fb.Orientation != feedback.Aligned || fb.Position != feedback.Aligned {
		t.Errorf("expected aligned, got %v / %v", fb.Orientation, fb.Position)
	}

	f.ctrl.Handle(ctx, Reset{})
	if diff := cmp.Diff(State(Searching{}), f.ctrl.State()); diff != "" {
		t.Errorf("reset did not clear state (-want +got):\n%s", diff)
	}
}

func TestCancelTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.PolicyTrust)

	f.ctrl.Handle(ctx, Search{Query: types.FeatureVector{1, 0, 0}})
	f.ctrl.Handle(ctx, SelectGuide{Index: 1})
	f.ctrl.Handle(ctx, Cancel{})
	s, ok := f.ctrl.State().(Searching)
	if !ok || len(s.Results) != 3 {
		t.Fatalf("cancel from GuideSelected should keep results, got %+v", f.ctrl.State())
	}

	f.ctrl.Handle(ctx, SelectGuide{Index: 1})
	f.ctrl.Handle(ctx, Confirm{})
	f.ctrl.Handle(ctx, Cancel{})
	if s, ok := f.ctrl.State().(Searching); !ok || len(s.Results) != 3 {
		t.Fatalf("cancel from GuideConfirmed should keep results, got %+v", f.ctrl.State())
	}

	f.ctrl.Handle(ctx, Cancel{})
	if s, ok := f.ctrl.State().(Searching); !ok || len(s.Results) != 0 {
		t.Fatalf("cancel from Searching should discard results, got %+v", f.ctrl.State())
	}
}

func TestInvalidCommandsAreNoops(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.PolicyTrust)

	for _, cmd := range []Command{Confirm{}, StartGuiding{}, Reset{}, Cancel{}} {
		if out := f.ctrl.Handle(ctx, cmd); out != (Outcome{}) {
			t.Errorf("%T in Searching{empty}: outcome %+v", cmd, out)
		}
	}

	f.ctrl.Handle(ctx, Search{Query: types.FeatureVector{1, 0, 0}})
	before := f.ctrl.State()
	for _, cmd := range []Command{SelectGuide{Index: 3}, SelectGuide{Index: -1}, Confirm{}, StartGuiding{}, Reset{}} {
		f.ctrl.Handle(ctx, cmd)
		if diff := cmp.Diff(before, f.ctrl.State()); diff != "" {
			t.Errorf("%T changed state (-want +got):\n%s", cmd, diff)
		}
	}

	f.ctrl.Handle(ctx, SelectGuide{Index: 0})
	for _, cmd := range []Command{Search{Query: types.FeatureVector{0, 1, 0}}, SelectGuide{Index: 1}, StartGuiding{}, Reset{}} {
		f.ctrl.Handle(ctx, cmd)
		if _, ok := f.ctrl.State().(GuideSelected); !ok {
			t.Errorf("%T left GuideSelected", cmd)
		}
	}

	f.guide(t)
	for _, cmd := range []Command{Search{Query: types.FeatureVector{0, 1, 0}}, Cancel{}, Confirm{}, SelectGuide{Index: 0}} {
		f.ctrl.Handle(ctx, cmd)
		if _, ok := f.ctrl.State().(Guiding); !ok {
			t.Errorf("%T left Guiding", cmd)
		}
	}
}

func TestInferenceFailureNeverTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.PolicyTrust)
	f.ctrl.Handle(ctx, Search{Query: types.FeatureVector{1, 0, 0}})

	f.engine.fail = true
	out := f.ctrl.Handle(ctx, SelectGuide{Index: 0})
	if out.Notice != noticeUnavailable {
		t.Errorf("notice = %q", out.Notice)
	}
	if _, ok := f.ctrl.State().(Searching); !ok {
		t.Errorf("expected Searching, got %s", f.ctrl.State().Name())
	}

	// Missing guide image.
	f.engine.fail = false
	delete(f.images.frames, "db_images/0001.jpg")
	if out := f.ctrl.Handle(ctx, SelectGuide{Index: 0}); out.Notice != noticeUnavailable {
		t.Errorf("notice = %q", out.Notice)
	}
}

func TestObserve(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.PolicyTrust)

	if fb := f.ctrl.Observe(ctx, jpegFrame(t, 1)); fb != (Feedback{}) {
		t.Errorf("expected no feedback outside Guiding, got %+v", fb)
	}

	f.guide(t)
	f.engine.fail = true
	fb := f.ctrl.Observe(ctx, jpegFrame(t, 1))
	if fb.Orientation != feedback.Unavailable || fb.Position != feedback.Unavailable || fb.Live != nil {
		t.Errorf("expected unavailable feedback, got %+v", fb)
	}
	if _, ok := f.ctrl.State().(Guiding); !ok {
		t.Error("inference failure left Guiding")
	}
}

func TestAddToDatabase(t *testing.T) {
	tests := []struct {
		name      string
		policy    config.AddPolicy
		pose      types.PoseEstimate
		wantAdded bool
		wantMsg   string
	}{
		{"trust accepts poseless frame", config.PolicyTrust, types.PoseEstimate{}, true, "added db_images/capture_1.jpg (4 guides)"},
		{"validate accepts valid pose", config.PolicyValidate, upright(0.3), true, "added db_images/capture_1.jpg (4 guides)"},
		{"validate rejects invalid pose", config.PolicyValidate, types.PoseEstimate{}, false, "pose not valid, frame not added"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, tt.policy)
			frame := jpegFrame(t, 7)
			f.engine.features[string(frame.JPEG)] = types.FeatureVector{0, 0, 1}
			f.engine.poses[string(frame.JPEG)] = tt.pose

			out := f.ctrl.Handle(ctx, AddToDatabase{Frame: frame})
			if out.Notice != tt.wantMsg {
				t.Errorf("notice = %q, want %q", out.Notice, tt.wantMsg)
			}
			if added := f.db.Len() == 4; added != tt.wantAdded {
				t.Errorf("db len = %d", f.db.Len())
			}
			if _, ok := f.ctrl.State().(Searching); !ok {
				t.Errorf("add changed state to %s", f.ctrl.State().Name())
			}

			if tt.wantAdded {
				// The new guide is immediately searchable.
				res, err := f.db.Search(ctx, types.FeatureVector{0, 0, 1}, 1)
				if err != nil || res[0].ID != "db_images/capture_1.jpg" {
					t.Errorf("appended frame not searchable: %+v %v", res, err)
				}
			}
		})
	}
}

func TestAddToDatabaseFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.PolicyTrust)
	frame := jpegFrame(t, 9)

	// No feature for this frame.
	if out := f.ctrl.Handle(ctx, AddToDatabase{Frame: frame}); out.Notice != noticeUnavailable {
		t.Errorf("notice = %q", out.Notice)
	}

	// Wrong dimension: the saved image must be removed again.
	f.engine.features[string(frame.JPEG)] = types.FeatureVector{1, 2}
	out := f.ctrl.Handle(ctx, AddToDatabase{Frame: frame})
	if out.Notice == "" || f.db.Len() != 3 {
		t.Errorf("expected failure, got %q with %d records", out.Notice, f.db.Len())
	}
	if _, ok := f.images.frames["db_images/capture_1.jpg"]; ok {
		t.Error("orphaned capture left in the image store")
	}

	f.engine.features[string(frame.JPEG)] = types.FeatureVector{0, 0, 1}
	f.images.saveErr = errors.New("read-only file system")
	if out := f.ctrl.Handle(ctx, AddToDatabase{Frame: frame}); out.Notice != "add failed: read-only file system" {
		t.Errorf("notice = %q", out.Notice)
	}
}

func TestAddLogsFailedCleanup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.PolicyTrust)
	core, logs := observer.New(zapcore.WarnLevel)
	ctrl := NewController(f.db, f.engine, f.images, OptionsFromConfig(config.DefaultConfig()), zap.New(core))

	frame := jpegFrame(t, 9)
	f.engine.features[string(frame.JPEG)] = types.FeatureVector{1, 2} // wrong dimension
	f.images.removeErr = errors.New("permission denied")

	ctrl.Handle(ctx, AddToDatabase{Frame: frame})

	entries := logs.FilterMessage("cannot remove orphaned capture").All()
	if len(entries) != 1 {
		t.Fatalf("expected one cleanup warning, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["id"]; got != "db_images/capture_1.jpg" {
		t.Errorf("warning id = %v", got)
	}
}

func TestQuit(t *testing.T) {
	f := newFixture(t, config.PolicyTrust)
	f.guide(t)
	if out := f.ctrl.Handle(context.Background(), Quit{}); !out.Quit {
		t.Error("Quit did not end the session")
	}
}
