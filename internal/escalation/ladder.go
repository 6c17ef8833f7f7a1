// Package escalation holds the severity ladder and the Alarm entity with its
// pure state transitions. Nothing in this package performs I/O; every
// time-dependent operation takes the current time explicitly.
package escalation

import (
	"fmt"
	"time"
)

// Level is a severity step on the escalation ladder.
type Level int

const (
	LevelGentle     Level = 1
	LevelPersistent Level = 2
	LevelUrgent     Level = 3
	LevelCritical   Level = 4
	LevelEmergency  Level = 5
)

// MinLevel and MaxLevel bound the ladder.
const (
	MinLevel = LevelGentle
	MaxLevel = LevelEmergency
)

// Intensity describes how loudly a level is delivered.
type Intensity string

const (
	IntensityStandard       Intensity = "standard"
	IntensityRepeating      Intensity = "repeating"
	IntensitySound          Intensity = "sound"
	IntensitySoundVibration Intensity = "sound_vibration"
	IntensityFullScreen     Intensity = "full_screen"
)

type rung struct {
	name      string
	interval  time.Duration
	delay     time.Duration
	intensity Intensity
}

// ladder is indexed by Level; index 0 is unused.
var ladder = [...]rung{
	{},
	{name: "gentle", interval: 5 * time.Minute, delay: 1 * time.Minute, intensity: IntensityStandard},
	{name: "persistent", interval: 5 * time.Minute, delay: 5 * time.Minute, intensity: IntensityRepeating},
	{name: "urgent", interval: 2 * time.Minute, delay: 15 * time.Minute, intensity: IntensitySound},
	{name: "critical", interval: 1 * time.Minute, delay: 30 * time.Minute, intensity: IntensitySoundVibration},
	{name: "emergency", interval: 1 * time.Minute, delay: 60 * time.Minute, intensity: IntensityFullScreen},
}

// Valid reports whether l is one of the five ladder levels.
func (l Level) Valid() bool {
	return l >= MinLevel && l <= MaxLevel
}

func (l Level) String() string {
	if !l.Valid() {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return ladder[l].name
}

// Interval is the minimum time between consecutive escalations while the
// alarm sits at l.
func (l Level) Interval() time.Duration {
	return ladder[l.clamp()].interval
}

// Intensity returns the delivery intensity tag for l.
func (l Level) Intensity() Intensity {
	return ladder[l.clamp()].intensity
}

// Next returns the successor of l. The ceiling is absorbing.
func (l Level) Next() Level {
	if l >= MaxLevel {
		return MaxLevel
	}
	if l < MinLevel {
		return MinLevel
	}
	return l + 1
}

func (l Level) clamp() Level {
	switch {
	case l < MinLevel:
		return MinLevel
	case l > MaxLevel:
		return MaxLevel
	default:
		return l
	}
}

// Delay is the base offset used when pre-scheduling the notification for
// level to. It depends only on the target level.
//
// Delay is measured from the moment the sequence is scheduled, whereas the
// sweep measures Interval from the last escalation. The two timings are
// intentionally independent.
func Delay(_, to Level) time.Duration {
	return ladder[to.clamp()].delay
}

// ParseLevel accepts either a level name ("urgent") or its number ("3").
func ParseLevel(s string) (Level, error) {
	for l := MinLevel; l <= MaxLevel; l++ {
		if ladder[l].name == s || fmt.Sprint(int(l)) == s {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown escalation level %q", s)
}

// Rung is the public description of one ladder level.
type Rung struct {
	Level     Level     `json:"level"`
	Name      string    `json:"name"`
	Interval  string    `json:"interval"`
	Delay     string    `json:"delay"`
	Intensity Intensity `json:"intensity"`
}

// Ladder returns every level in ascending order.
func Ladder() []Rung {
	out := make([]Rung, 0, int(MaxLevel))
	for l := MinLevel; l <= MaxLevel; l++ {
		out = append(out, Rung{
			Level:     l,
			Name:      ladder[l].name,
			Interval:  ladder[l].interval.String(),
			Delay:     ladder[l].delay.String(),
			Intensity: ladder[l].intensity,
		})
	}
	return out
}
