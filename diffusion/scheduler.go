package diffusion

import "github.com/openfluke/daam/grid"

// Scheduler walks the latent from pure noise toward the model's prediction
// along a linear sigma schedule.
type Scheduler struct {
	Sigmas []float32 // length steps+1, descending from 1 to 0
}

// NewScheduler builds the schedule for the given step count.
func NewScheduler(steps int) *Scheduler {
	s := &Scheduler{Sigmas: make([]float32, steps+1)}
	for i := 0; i <= steps; i++ {
		s.Sigmas[i] = 1 - float32(i)/float32(steps)
	}
	return s
}

// Step applies the i-th update to latent in place using the model's
// prediction for that step.
func (s *Scheduler) Step(latent, pred grid.Grid, i int) {
	dt := s.Sigmas[i] - s.Sigmas[i+1]
	for j := range latent.Data {
		latent.Data[j] -= dt * pred.Data[j]
	}
}
