package mockserver

import (
	"hash/fnv"
	"math/rand"
	"strings"
)

// Summary is the demo payload: an evidence-graded supplement summary.
type Summary struct {
	Name        string     `json:"name"`
	WhatItDoes  string     `json:"what_it_does"`
	Dosage      string     `json:"dosage"`
	Safety      string     `json:"safety"`
	Evidence    []Evidence `json:"evidence"`
	StudyCount  int        `json:"study_count"`
	GeneratedBy string     `json:"generated_by"`
}

// Evidence grades one claimed benefit from A (strong) to F (none).
type Evidence struct {
	Condition string `json:"condition"`
	Grade     string `json:"grade"`
}

var (
	demoConditions = []string{"sleep", "stress", "cognition", "muscle strength", "inflammation", "immunity"}
	demoGrades     = []string{"A", "B", "C", "D", "F"}
)

// DemoScript returns a plausible script for subject: a few processing
// polls, sometimes a transient server error, then a completed summary.
// The same subject always produces the same script.
func DemoScript(req StartRequest) []Step {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.ToLower(req.Subject)))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	var steps []Step
	for i := 0; i < 2+rng.Intn(4); i++ {
		steps = append(steps, Processing)
	}
	if rng.Intn(3) == 0 {
		steps = append(steps, ServerError)
	}

	evidence := make([]Evidence, 0, 3)
	for _, idx := range rng.Perm(len(demoConditions))[:3] {
		evidence = append(evidence, Evidence{
			Condition: demoConditions[idx],
			Grade:     demoGrades[rng.Intn(len(demoGrades))],
		})
	}

	return append(steps, Completed(Summary{
		Name:        req.Subject,
		WhatItDoes:  "Demo summary for " + req.Subject + ".",
		Dosage:      "Follow label directions.",
		Safety:      "Generally well tolerated in studied doses.",
		Evidence:    evidence,
		StudyCount:  5 + rng.Intn(200),
		GeneratedBy: "mock-server",
	}))
}
