package tts

import (
	"strconv"
	"sync"
)

// SpeedSteps are the speeds SpeedControl steps through, slowest first.
var SpeedSteps = []float64{0.5, 0.75, 1.0, 1.25, 1.5, 1.75, 2.0}

// SpeedControl holds the speaking speed used for requests submitted from now
// on. Changing it never affects a session already running.
type SpeedControl struct {
	mu    sync.Mutex
	speed float64
}

// NewSpeedControl returns a control set to speed, which must be within
// MinSpeed and MaxSpeed.
func NewSpeedControl(speed float64) (*SpeedControl, error) {
	s := &SpeedControl{}
	if err := s.Set(speed); err != nil {
		return nil, err
	}
	return s, nil
}

// Speed returns the current multiplier.
func (s *SpeedControl) Speed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speed
}

// Set changes the multiplier. Values between steps are allowed.
func (s *SpeedControl) Set(speed float64) error {
	if speed < MinSpeed || speed > MaxSpeed {
		return NewTTSError(ErrorCodeValidation, "invalid speed", ErrInvalidSpeed).WithContext("speed", speed)
	}

	s.mu.Lock()
	s.speed = speed
	s.mu.Unlock()
	return nil
}

// Faster moves up to the next step and returns the result. At or above the
// fastest step the speed is left alone.
func (s *SpeedControl) Faster() float64 {
	return s.step(+1)
}

// Slower moves down to the next step and returns the result.
func (s *SpeedControl) Slower() float64 {
	return s.step(-1)
}

func (s *SpeedControl) step(dir int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir > 0 {
		for _, v := range SpeedSteps {
			if v > s.speed {
				s.speed = v
				return v
			}
		}
		return s.speed
	}

	for i := len(SpeedSteps) - 1; i >= 0; i-- {
		if SpeedSteps[i] < s.speed {
			s.speed = SpeedSteps[i]
			return s.speed
		}
	}
	return s.speed
}

// String formats the speed as a multiplier, e.g. "1.25x" or "1x (normal)".
func (s *SpeedControl) String() string {
	speed := s.Speed()
	label := strconv.FormatFloat(speed, 'f', -1, 64) + "x"
	switch {
	case speed == 1:
		label += " (normal)"
	case speed == SpeedSteps[0]:
		label += " (slowest)"
	case speed == SpeedSteps[len(SpeedSteps)-1]:
		label += " (fastest)"
	}
	return label
}
