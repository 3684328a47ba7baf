package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/irisdrone/trafficguard/analysis"
	"github.com/irisdrone/trafficguard/database"
	"github.com/irisdrone/trafficguard/escalation"
	"github.com/irisdrone/trafficguard/models"
	"github.com/irisdrone/trafficguard/notify"
	"github.com/irisdrone/trafficguard/realtime"
	"github.com/irisdrone/trafficguard/realtime/realtimetest"
	"github.com/irisdrone/trafficguard/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fixture struct {
	db       *gorm.DB
	recorder *realtimetest.Recorder
	pipeline *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(sqlite.Open("file::memory:"), logger.Silent)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { database.Close(db) })

	for i, role := range []string{models.RolePolice, models.RolePolice, models.RoleAdmin, models.RolePublic} {
		u := models.User{Username: fmt.Sprintf("user-%d", i), PasswordHash: "x", Role: role}
		require.NoError(t, db.Create(&u).Error)
	}

	rec := &realtimetest.Recorder{}
	policy := escalation.Policy{
		Hotline:         "112",
		ContactName:     "TrafficGuard AI System",
		DefaultLocation: analysis.Location{Lat: -1.9536, Lon: 30.0606, Name: "Kigali, Rwanda"},
	}
	p := New(
		store.NewIncidentStore(db),
		notify.New(store.NewUserDirectory(db), store.NewNotificationStore(db), rec, []string{models.RolePolice, models.RoleAdmin}),
		escalation.New(policy, store.NewEmergencyStore(db), rec, []string{models.RolePolice, models.RoleAmbulance, models.RoleAdmin}),
		rec,
	)
	return &fixture{db: db, recorder: rec, pipeline: p}
}

func (f *fixture) count(t *testing.T, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Count(&n).Error)
	return n
}

func conf(c float64) *float64 { return &c }

func TestScenarioCriticalAccident(t *testing.T) {
	f := newFixture(t)

	out, err := f.pipeline.Process(context.Background(), Submission{
		Result: &analysis.Result{
			Detected:        true,
			Type:            "accident",
			Confidence:      conf(0.85),
			VehicleCount:    5,
			StationaryCount: 2,
			AvgSpeed:        8,
		},
		Location: &analysis.Location{Lat: -1.9536, Lon: 30.0606, Name: "KN 3 Ave"},
	})
	require.NoError(t, err)
	require.True(t, out.IncidentCreated())
	assert.Equal(t, models.SeverityCritical, out.Incident.Severity)
	assert.Equal(t, models.IncidentAccident, out.Incident.Type)
	assert.Equal(t, "AI-detected accident, 5 vehicles observed, average speed 8 km/h, 2 stationary vehicles (85% confidence).", out.Incident.Description)
	assert.Equal(t, 3, out.Notified)

	require.NotNil(t, out.Emergency)
	assert.Equal(t, "accident", out.Emergency.EmergencyType)
	assert.Equal(t, models.StringList{"police", "ambulance"}, out.Emergency.ServicesNeeded)
	assert.Equal(t, models.LocationFromRequest, out.Emergency.LocationSource)

	assert.Equal(t, int64(1), f.count(t, &models.Incident{}))
	assert.Equal(t, int64(3), f.count(t, &models.Notification{}))
	assert.Equal(t, int64(1), f.count(t, &models.Emergency{}))

	newEvents := f.recorder.Named(realtime.EventIncidentNew)
	require.Len(t, newEvents, 1)
	assert.Empty(t, newEvents[0].Rooms)
	assert.Equal(t, "critical", newEvents[0].Payload["severity"])
	assert.Equal(t, float64(5), newEvents[0].Payload["vehicleCount"])
	loc := newEvents[0].Payload["location"].(map[string]interface{})
	assert.Equal(t, "KN 3 Ave", loc["name"])
	assert.Equal(t, -1.9536, loc["lat"])

	nearby := f.recorder.Named(realtime.EventIncidentNearby)
	require.Len(t, nearby, 1)
	assert.Equal(t, []string{"loc_-195_3006"}, nearby[0].Rooms)

	assert.Len(t, f.recorder.Named(realtime.EventNotificationNew), 3)
	auto := f.recorder.Named(realtime.EventEmergencyAuto)
	require.Len(t, auto, 1)
	assert.Equal(t, true, auto[0].Payload["automatic"])
	assert.Equal(t, 0.85, auto[0].Payload["aiConfidence"])
}

func TestScenarioLowCongestion(t *testing.T) {
	f := newFixture(t)

	out, err := f.pipeline.Process(context.Background(), Submission{
		Result: &analysis.Result{Detected: true, Type: "congestion", Confidence: conf(0.5)},
	})
	require.NoError(t, err)
	require.True(t, out.IncidentCreated())
	assert.Equal(t, models.SeverityLow, out.Incident.Severity)
	assert.Equal(t, models.IncidentTrafficJam, out.Incident.Type)
	assert.Nil(t, out.Emergency)

	assert.Equal(t, int64(1), f.count(t, &models.Incident{}))
	assert.Equal(t, int64(0), f.count(t, &models.Emergency{}))
	assert.Empty(t, f.recorder.Named(realtime.EventEmergencyAuto))
	// no location, so nobody is addressed by room
	assert.Empty(t, f.recorder.Named(realtime.EventIncidentNearby))
}

func TestScenarioNothingDetected(t *testing.T) {
	f := newFixture(t)

	out, err := f.pipeline.Process(context.Background(), Submission{
		Result: &analysis.Result{Detected: false},
	})
	require.NoError(t, err)
	assert.False(t, out.IncidentCreated())
	assert.Zero(t, out.Notified)
	assert.Nil(t, out.Emergency)

	assert.Equal(t, int64(0), f.count(t, &models.Incident{}))
	assert.Equal(t, int64(0), f.count(t, &models.Notification{}))
	assert.Equal(t, int64(0), f.count(t, &models.Emergency{}))
	assert.Empty(t, f.recorder.Events())
}

func TestInvalidResultHasNoSideEffects(t *testing.T) {
	f := newFixture(t)

	_, err := f.pipeline.Process(context.Background(), Submission{Result: nil})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.pipeline.Process(context.Background(), Submission{
		Result: &analysis.Result{Detected: true, Type: "accident", Confidence: conf(3)},
	})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.pipeline.Process(context.Background(), Submission{
		Result:   &analysis.Result{Detected: true, Type: "accident"},
		Location: &analysis.Location{Lat: -91, Lon: 0},
	})
	assert.ErrorIs(t, err, ErrValidation)

	assert.Equal(t, int64(0), f.count(t, &models.Incident{}))
	assert.Empty(t, f.recorder.Events())
}

func TestResubmissionCreatesSecondIncident(t *testing.T) {
	f := newFixture(t)
	sub := Submission{Result: &analysis.Result{Detected: true, Type: "road_blockage", Confidence: conf(0.6)}}

	first, err := f.pipeline.Process(context.Background(), sub)
	require.NoError(t, err)
	second, err := f.pipeline.Process(context.Background(), sub)
	require.NoError(t, err)
	assert.NotEqual(t, first.Incident.ID, second.Incident.ID)
	assert.Equal(t, int64(2), f.count(t, &models.Emergency{}))
}

func TestMissingLocationEscalatesToDefault(t *testing.T) {
	f := newFixture(t)

	out, err := f.pipeline.Process(context.Background(), Submission{
		Result: &analysis.Result{Detected: true, Type: "road_blockage", Confidence: conf(0.6), VehicleCount: 4},
	})
	require.NoError(t, err)
	require.NotNil(t, out.Emergency)
	assert.Equal(t, models.LocationFromDefault, out.Emergency.LocationSource)
	assert.Equal(t, -1.9536, out.Emergency.Lat)
	assert.Equal(t, "Kigali, Rwanda", out.Emergency.LocationName)
}

type failingCreator struct{}

func (failingCreator) Create(ctx context.Context, in store.NewIncident) (*models.Incident, error) {
	return nil, errors.New("connection reset")
}

type countingNotifier struct{ calls int }

func (n *countingNotifier) Notify(ctx context.Context, incident *models.Incident, result *analysis.Result) (int, error) {
	n.calls++
	return 0, nil
}

type countingEscalator struct{ calls int }

func (e *countingEscalator) Escalate(ctx context.Context, incident *models.Incident, result *analysis.Result, requested *analysis.Location) (*models.Emergency, error) {
	e.calls++
	return nil, nil
}

func TestPersistenceFailureStopsPipeline(t *testing.T) {
	rec := &realtimetest.Recorder{}
	n := &countingNotifier{}
	e := &countingEscalator{}
	p := New(failingCreator{}, n, e, rec)

	out, err := p.Process(context.Background(), Submission{
		Result: &analysis.Result{Detected: true, Type: "accident", Confidence: conf(0.9)},
	})
	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Zero(t, n.calls)
	assert.Zero(t, e.calls)
	assert.Empty(t, rec.Events())
}

type brokenNotifier struct{}

func (brokenNotifier) Notify(ctx context.Context, incident *models.Incident, result *analysis.Result) (int, error) {
	return 0, fmt.Errorf("%w: disk full", ErrFanout)
}

type brokenEscalator struct{}

func (brokenEscalator) Escalate(ctx context.Context, incident *models.Incident, result *analysis.Result, requested *analysis.Location) (*models.Emergency, error) {
	return nil, fmt.Errorf("%w: disk full", ErrEscalation)
}

func TestStageFailuresAreSwallowed(t *testing.T) {
	f := newFixture(t)
	rec := &realtimetest.Recorder{Err: errors.New("hub offline")}
	p := New(store.NewIncidentStore(f.db), brokenNotifier{}, brokenEscalator{}, rec)

	out, err := p.Process(context.Background(), Submission{
		Result:   &analysis.Result{Detected: true, Type: "accident", Confidence: conf(0.9)},
		Location: &analysis.Location{Lat: -1.95, Lon: 30.06},
	})
	require.NoError(t, err)
	require.True(t, out.IncidentCreated())
	assert.Equal(t, "AI Detected Location", out.Incident.LocationName)
	assert.Zero(t, out.Notified)
	assert.Nil(t, out.Emergency)
	assert.Equal(t, int64(1), f.count(t, &models.Incident{}))
}

// cancelAfterCreate hangs up on the caller as soon as the incident is stored
type cancelAfterCreate struct {
	IncidentCreator
	cancel context.CancelFunc
}

func (c cancelAfterCreate) Create(ctx context.Context, in store.NewIncident) (*models.Incident, error) {
	incident, err := c.IncidentCreator.Create(ctx, in)
	c.cancel()
	return incident, err
}

func TestFollowUpStagesSurviveCallerCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := New(
		cancelAfterCreate{IncidentCreator: store.NewIncidentStore(f.db), cancel: cancel},
		f.pipeline.notifier,
		f.pipeline.escalator,
		f.recorder,
	)

	out, err := p.Process(ctx, Submission{
		Result:   &analysis.Result{Detected: true, Type: "accident", Confidence: conf(0.9), VehicleCount: 3},
		Location: &analysis.Location{Lat: -1.95, Lon: 30.06, Name: "KN 5 Rd"},
	})
	require.NoError(t, err)
	require.Error(t, ctx.Err())
	require.True(t, out.IncidentCreated())
	assert.Equal(t, 3, out.Notified)
	require.NotNil(t, out.Emergency)

	assert.Equal(t, int64(1), f.count(t, &models.Incident{}))
	assert.Equal(t, int64(3), f.count(t, &models.Notification{}))
	assert.Equal(t, int64(1), f.count(t, &models.Emergency{}))
	assert.Len(t, f.recorder.Named(realtime.EventEmergencyAuto), 1)
}

func TestFollowUpStagesUseStoredConfidence(t *testing.T) {
	f := newFixture(t)

	out, err := f.pipeline.Process(context.Background(), Submission{
		Result:   &analysis.Result{Detected: true, Type: "accident", Confidence: conf(0.8449), VehicleCount: 2},
		Location: &analysis.Location{Lat: -1.95, Lon: 30.06, Name: "KN 5 Rd"},
	})
	require.NoError(t, err)
	require.NotNil(t, out.Incident.Confidence)
	assert.Equal(t, 0.84, *out.Incident.Confidence)

	auto := f.recorder.Named(realtime.EventEmergencyAuto)
	require.Len(t, auto, 1)
	assert.Equal(t, 0.84, auto[0].Payload["aiConfidence"])
	require.NotNil(t, out.Emergency)
	assert.Contains(t, out.Emergency.LocationDescription, "Confidence: 84%")

	var rows []models.Notification
	require.NoError(t, f.db.Find(&rows).Error)
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.Equal(t, 0.84, row.Payload.Map()["ai_confidence"])
		assert.Contains(t, row.Message, "Confidence: 84%")
	}
}

func TestUntypedDetectionIsStoredAsOther(t *testing.T) {
	f := newFixture(t)

	out, err := f.pipeline.Process(context.Background(), Submission{
		Result: &analysis.Result{Detected: true, Confidence: conf(0.9)},
	})
	require.NoError(t, err)
	require.True(t, out.IncidentCreated())
	assert.Equal(t, models.IncidentOther, out.Incident.Type)
	assert.Equal(t, models.SeverityLow, out.Incident.Severity)
	assert.Nil(t, out.Emergency)
	assert.Equal(t, int64(1), f.count(t, &models.Incident{}))
}
