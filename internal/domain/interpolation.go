package domain

// InterpolationState animates the display fields of one asset from their
// current values toward a validated target over a fixed number of steps.
// At most one instance is active per asset; starting a new one replaces any
// in-flight animation.
type InterpolationState struct {
	StartPrice  float64
	EndPrice    float64
	StartChange float64
	EndChange   float64
	Step        int
	MaxSteps    int
	Active      bool
}

// NewInterpolation starts an animation from the current display values to
// the clamped target values.
func NewInterpolation(fromPrice, toPrice, fromChange, toChange float64, maxSteps int) *InterpolationState {
	if maxSteps < 1 {
		maxSteps = 1
	}
	return &InterpolationState{
		StartPrice:  fromPrice,
		EndPrice:    toPrice,
		StartChange: fromChange,
		EndChange:   toChange,
		MaxSteps:    maxSteps,
		Active:      true,
	}
}

// easeOut is a cubic ease-out curve: front-loaded motion, gentle settle.
func easeOut(t float64) float64 {
	u := 1 - t
	return 1 - u*u*u
}

// Advance moves the animation one step and returns the display values for
// that step. The final step lands exactly on the end values, so a finished
// animation leaves no residual drift.
func (st *InterpolationState) Advance() (price, change float64, done bool) {
	if !st.Active {
		return st.EndPrice, st.EndChange, true
	}

	st.Step++
	if st.Step >= st.MaxSteps {
		st.Active = false
		return st.EndPrice, st.EndChange, true
	}

	p := easeOut(float64(st.Step) / float64(st.MaxSteps))
	price = st.StartPrice + (st.EndPrice-st.StartPrice)*p
	change = st.StartChange + (st.EndChange-st.StartChange)*p
	return price, change, false
}
