// Package pads triggers drum hits from a MIDI controller. A MIDI driver
// must be registered by the importing program.
package pads

import (
	"fmt"
	"log"
	"strings"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"github.com/satindergrewal/remix/internal/samples"
)

// Mapping maps MIDI note numbers to drum kinds.
type Mapping map[uint8]samples.Kind

// GeneralMIDI is the General MIDI percussion layout: bass drums, snares,
// then closed, pedal and open hi-hats.
var GeneralMIDI = Mapping{
	35: samples.Kick,
	36: samples.Kick,
	38: samples.Snare,
	40: samples.Snare,
	42: samples.HiHat,
	44: samples.HiHat,
	46: samples.HiHat,
}

// Kind returns the drum kind a message triggers. Only note-on messages with
// a non-zero velocity trigger.
func (m Mapping) Kind(msg midi.Message) (samples.Kind, bool) {
	var channel, note, velocity uint8
	if !msg.GetNoteOn(&channel, &note, &velocity) || velocity == 0 {
		return 0, false
	}
	k, ok := m[note]
	return k, ok
}

// Trigger plays a drum hit.
type Trigger func(samples.Kind) bool

// Listen opens the first input port whose name contains port
// (case-insensitive) and calls trigger for every mapped hit. The returned
// function closes the listener.
func Listen(port string, m Mapping, trigger Trigger) (stop func(), err error) {
	in, err := findPort(port)
	if err != nil {
		return nil, err
	}
	stop, err = midi.ListenTo(in, func(msg midi.Message, _ int32) {
		if kind, ok := m.Kind(msg); ok {
			trigger(kind)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("open input %s: %w", in, err)
	}
	log.Printf("MIDI pads listening on %s", in)
	return stop, nil
}

func findPort(name string) (drivers.In, error) {
	if in, err := midi.FindInPort(name); err == nil {
		return in, nil
	}
	want := strings.ToLower(name)
	for _, in := range midi.GetInPorts() {
		if strings.Contains(strings.ToLower(in.String()), want) {
			return in, nil
		}
	}
	return nil, fmt.Errorf("no MIDI input port matching %q", name)
}
