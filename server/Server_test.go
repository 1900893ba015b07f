package server

import (
	"testing"
	"time"
)

// testConfig returns a small configuration: four agents, one predictor,
// one trainer, and fragments of at most two transitions
func testConfig() Config {
	return Config{
		NumAgents:              4,
		NumPredictors:          1,
		NumTrainers:            1,
		MinPredictionBatchSize: 4,
		MaxPredictionBatchSize: 4,
		MinTrainingBatchSize:   2,
		MaxTrainingBatchSize:   2,
		TMax:                   2,
	}
}

// TestRunTrainsScriptedEpisodes runs four agents against a three-step
// scripted environment. Every episode cuts into a bootstrapped fragment
// of two transitions followed by a terminal fragment of one, so every
// training batch must reflect those lengths.
func TestRunTrainsScriptedEpisodes(t *testing.T) {
	factory := &scriptedFactory{k: 4, rewards: []float64{0.1, 0.2, 0.5}}
	m := &stubModel{}

	srv, err := New(testConfig(), m, factory)
	if err != nil {
		t.Fatalf("could not create server: %v", err)
	}
	if err := srv.Run(24); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	records := m.trainRecords()
	if len(records) == 0 {
		t.Fatal("no training batches reached the model")
	}

	trainedSteps := 0
	for _, record := range records {
		if record.batchSize != 2 {
			t.Errorf("batch of %d fragments, want 2", record.batchSize)
		}
		if len(record.dataSizes) != 2 || len(record.observationSizes) != 3 {
			t.Fatalf("got %d data sizes and %d observation sizes, want 2 "+
				"and 3", len(record.dataSizes),
				len(record.observationSizes))
		}

		// Every fragment has at least one transition
		if record.dataSizes[0] != 2 {
			t.Errorf("dataSizes[0] = %d, want 2", record.dataSizes[0])
		}
		for i := 1; i < len(record.dataSizes); i++ {
			if record.dataSizes[i] > record.dataSizes[i-1] {
				t.Errorf("dataSizes %v increases", record.dataSizes)
			}
		}
		for i := 1; i < len(record.observationSizes); i++ {
			if record.observationSizes[i] > record.observationSizes[i-1] {
				t.Errorf("observationSizes %v increases",
					record.observationSizes)
			}
		}

		// A batch pairing a bootstrapped two-step fragment with a
		// terminal one-step fragment has exactly one observation in
		// rows one and two
		if record.dataSizes[1] == 1 {
			want := []int64{2, 1, 1}
			for i, size := range record.observationSizes {
				if size != want[i] {
					t.Errorf("observationSizes = %v, want %v",
						record.observationSizes, want)
					break
				}
			}
		}

		// The stub model always selects action 0
		for _, id := range record.actions {
			if id != 0 {
				t.Errorf("trained action id %d, want 0", id)
			}
		}

		for _, n := range record.dataSizes {
			trainedSteps += int(n)
		}
	}
	if trainedSteps < 24 {
		t.Errorf("trained %d steps, want at least 24", trainedSteps)
	}
}

// TestRunDeliversResultsToSubmittingAgent checks the round-trip law:
// the prediction computed from an agent's observation comes back to
// that same agent. Observations carry the agent's environment id, the
// stub model answers with that id, and every scripted environment
// asserts it only ever receives its own id.
func TestRunDeliversResultsToSubmittingAgent(t *testing.T) {
	factory := &scriptedFactory{
		k:       4,
		rewards: []float64{0.1, 0.2, 0.5},
		wantActionID: func(id int) int64 {
			return int64(id % 4)
		},
	}
	m := &stubModel{
		actionFor: func(state float64) int64 {
			return int64(state) % 4
		},
	}

	srv, err := New(testConfig(), m, factory)
	if err != nil {
		t.Fatalf("could not create server: %v", err)
	}
	if err := srv.Run(12); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if n := factory.misdelivered(); n != 0 {
		t.Errorf("%d predictions delivered to the wrong agent", n)
	}
}

// TestSingleStepEpisodes covers episodes that finish on their first
// step: each emits one fragment with one transition and one observation
func TestSingleStepEpisodes(t *testing.T) {
	factory := &scriptedFactory{k: 4, rewards: []float64{1.0}}
	m := &stubModel{}

	srv, err := New(testConfig(), m, factory)
	if err != nil {
		t.Fatalf("could not create server: %v", err)
	}
	if err := srv.Run(8); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	for _, record := range m.trainRecords() {
		if record.dataSizes[0] != 2 || record.dataSizes[1] != 0 {
			t.Errorf("dataSizes = %v, want [2 0]", record.dataSizes)
		}
		want := []int64{2, 0, 0}
		for i, size := range record.observationSizes {
			if size != want[i] {
				t.Errorf("observationSizes = %v, want %v",
					record.observationSizes, want)
				break
			}
		}
	}
}

// TestEpisodeEndingExactlyAtFragmentBound covers episodes whose length
// equals the fragment bound: one fragment with equal observation and
// transition counts, no bootstrap
func TestEpisodeEndingExactlyAtFragmentBound(t *testing.T) {
	factory := &scriptedFactory{k: 4, rewards: []float64{0.1, 0.5}}
	m := &stubModel{}

	srv, err := New(testConfig(), m, factory)
	if err != nil {
		t.Fatalf("could not create server: %v", err)
	}
	if err := srv.Run(16); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	for _, record := range m.trainRecords() {
		if record.dataSizes[0] != 2 || record.dataSizes[1] != 2 {
			t.Errorf("dataSizes = %v, want [2 2]", record.dataSizes)
		}
		want := []int64{2, 2, 0}
		for i, size := range record.observationSizes {
			if size != want[i] {
				t.Errorf("observationSizes = %v, want %v",
					record.observationSizes, want)
				break
			}
		}
	}
}

// TestRunZeroTargetShutsDownCleanly checks that a zero-step run returns
// without serving a batch and joins every worker
func TestRunZeroTargetShutsDownCleanly(t *testing.T) {
	factory := &scriptedFactory{k: 4, rewards: []float64{0.1, 0.2, 0.5}}
	m := &stubModel{}

	srv, err := New(testConfig(), m, factory)
	if err != nil {
		t.Fatalf("could not create server: %v", err)
	}

	finished := make(chan error, 1)
	go func() {
		finished <- srv.Run(0)
	}()
	select {
	case err := <-finished:
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return")
	}

	for i, p := range srv.predictors {
		assertClosed(t, p.done, "predictor", i)
	}
	for i, tr := range srv.trainers {
		assertClosed(t, tr.done, "trainer", i)
	}
	for i, a := range srv.agents {
		assertClosed(t, a.done, "agent", i)
	}

	srv.predictionQueueLock.Lock()
	predictionDepth := len(srv.predictionQueue)
	srv.predictionQueueLock.Unlock()
	if predictionDepth != 0 {
		t.Errorf("%d entries left in the prediction queue", predictionDepth)
	}
	srv.trainingQueueLock.Lock()
	trainingDepth := len(srv.trainingQueue)
	srv.trainingQueueLock.Unlock()
	if trainingDepth != 0 {
		t.Errorf("%d entries left in the training queue", trainingDepth)
	}

	// Closing again must be a no-op
	srv.Close()
}

func assertClosed(t *testing.T, done chan struct{}, role string, i int) {
	t.Helper()
	select {
	case <-done:
	default:
		t.Errorf("%v %d still running", role, i)
	}
}

// TestStressManyAgents runs a larger population through many batches to
// shake out deadlocks in the queue and parking protocol
func TestStressManyAgents(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}

	c := Config{
		NumAgents:              64,
		NumPredictors:          2,
		NumTrainers:            2,
		MinPredictionBatchSize: 16,
		MaxPredictionBatchSize: 32,
		MinTrainingBatchSize:   16,
		MaxTrainingBatchSize:   32,
		TMax:                   2,
	}
	factory := &scriptedFactory{k: 4, rewards: []float64{0.1, 0.2, 0.5}}
	m := &stubModel{}

	srv, err := New(c, m, factory)
	if err != nil {
		t.Fatalf("could not create server: %v", err)
	}

	finished := make(chan error, 1)
	go func() {
		finished <- srv.Run(10_000)
	}()
	select {
	case err := <-finished:
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
	case <-time.After(60 * time.Second):
		t.Fatal("stress run did not finish")
	}

	trainedSteps := 0
	for _, record := range m.trainRecords() {
		for _, n := range record.dataSizes {
			trainedSteps += int(n)
		}
	}
	if trainedSteps < 10_000 {
		t.Errorf("trained %d steps, want at least 10000", trainedSteps)
	}
}

// TestNewRejectsInvalidConfigs exercises the configuration failure
// taxonomy
func TestNewRejectsInvalidConfigs(t *testing.T) {
	factory := &scriptedFactory{k: 4, rewards: []float64{1.0}}
	m := &stubModel{}

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero agents", func(c *Config) { c.NumAgents = 0 }},
		{"zero predictors", func(c *Config) { c.NumPredictors = 0 }},
		{"zero trainers", func(c *Config) { c.NumTrainers = 0 }},
		{"zero tmax", func(c *Config) { c.TMax = 0 }},
		{"prediction min above max", func(c *Config) {
			c.MinPredictionBatchSize = 8
			c.MaxPredictionBatchSize = 4
		}},
		{"training min above max", func(c *Config) {
			c.MinTrainingBatchSize = 8
			c.MaxTrainingBatchSize = 4
		}},
		{"negative episode length", func(c *Config) {
			c.MaxEpisodeLength = -1
		}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := testConfig()
			test.modify(&c)
			if _, err := New(c, m, factory); err == nil {
				t.Error("invalid configuration accepted")
			}
		})
	}
}
