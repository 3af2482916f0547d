package metrics

type nopTimer struct{}

func (nopTimer) ObserveDuration() {}

func NopTimer() Timer { return nopTimer{} }

func NopTimerFunc() TimerFunc { return func() Timer { return nopTimer{} } }
