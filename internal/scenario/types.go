package scenario

// CaseAction is the proposed outbound action under test.
type CaseAction struct {
	Kind    string   `yaml:"kind"`
	Targets []string `yaml:"targets"`
	Body    string   `yaml:"body"`
	Actor   string   `yaml:"actor,omitempty"`
}

// Case is one gating assertion within a scenario. Each case runs
// against a fresh thread; cases are independent.
type Case struct {
	Action CaseAction `yaml:"action"`
	Expect string     `yaml:"expect"`

	// Inbound is the last inbound body on the thread, scanned by the
	// injection check before the outbound action is gated.
	Inbound      string `yaml:"inbound,omitempty"`
	Sender       string `yaml:"sender,omitempty"`
	KnownSender  bool   `yaml:"known_sender,omitempty"`
	PriorThreads int    `yaml:"prior_threads,omitempty"`
}

// Scenario is a named collection of gating assertions.
type Scenario struct {
	Name  string `yaml:"name"`
	Cases []Case `yaml:"cases"`
}

// CaseResult is the outcome of evaluating one case.
type CaseResult struct {
	Index    int      `json:"index"`
	Passed   bool     `json:"passed"`
	Kind     string   `json:"kind"`
	Targets  []string `json:"targets"`
	Expected string   `json:"expected"`
	Actual   string   `json:"actual"`
	Check    string   `json:"check,omitempty"`
	Reason   string   `json:"reason,omitempty"`
}

// RunResult is the outcome of running all cases in one scenario file.
type RunResult struct {
	File   string       `json:"file"`
	Name   string       `json:"name"`
	Total  int          `json:"total"`
	Passed int          `json:"passed"`
	Failed int          `json:"failed"`
	Cases  []CaseResult `json:"cases"`
}
