package bci

import (
	"time"

	"github.com/sirupsen/logrus"
)

/*
	Precise mark-and-sweep over the machine's allocation list.

	The live colour flips on every collection, so surviving a cycle needs no
	clear phase: a value is live when its colour bit matches the machine's.
	Roots are the current activation, the live window of the evaluation
	stack, and the canonical Unit/True/False.
*/

// collect is the collection opportunity run at the start of every
// allocation. Collection happens once the heap is at capacity; if the heap
// stays near-full afterwards, capacity grows.
func (m *Machine) collect() {
	if m.settings.ForceGC {
		m.forceGC()
		m.expandHeap()
		return
	}

	if m.size >= m.capacity {
		m.forceGC()
		m.expandHeap()
	}
}

func (m *Machine) expandHeap() {
	if m.size >= int(float64(m.capacity)*m.settings.HeapGrowthThreshold) {
		m.capacity *= m.settings.HeapGrowthFactor

		if m.settings.DebugGC || m.settings.TimeGC {
			logrus.WithField("capacity", m.capacity).Info("gc: memory still full after gc, increasing heap capacity")
		}
	}
}

// forceGC runs a full mark and sweep unconditionally.
func (m *Machine) forceGC() {
	var start time.Time
	if m.settings.TimeGC {
		start = time.Now()
	}

	newColour := white
	if m.colour == white {
		newColour = black
	}

	m.mark(m.activation, newColour)
	for i := int32(0); i < m.sp; i++ {
		m.mark(m.stack[i], newColour)
	}
	m.mark(m.falseValue, newColour)
	m.mark(m.trueValue, newColour)
	m.mark(m.unitValue, newColour)

	m.colour = newColour

	var endMark time.Time
	if m.settings.TimeGC {
		endMark = time.Now()
	}

	m.sweep()

	if m.settings.TimeGC {
		endSweep := time.Now()
		logrus.WithFields(logrus.Fields{
			"mark":  endMark.Sub(start),
			"sweep": endSweep.Sub(endMark),
		}).Info("gc: collection complete")
	}
}

func (m *Machine) mark(v *Value, colour Colour) {
	if v == nil {
		return
	}
	if v.colour() == colour {
		return
	}

	v.recolour(colour)

	if m.settings.DebugGC {
		logrus.WithField("value", m.toString(v, StyleRaw)).Info("gc: marking")
	}

	switch v.Type() {
	case VActivation:
		m.mark(v.a.parent, colour)
		m.mark(v.a.closure, colour)
		for _, slot := range v.a.state {
			m.mark(slot, colour)
		}
	case VData, VTuple:
		for _, item := range v.items {
			m.mark(item, colour)
		}
	case VClosure:
		m.mark(v.c.previousActivation, colour)
	case VBuiltinClosure:
		m.mark(v.bc.previous, colour)
		m.mark(v.bc.argument, colour)
	}
}

// sweep walks the allocation list, rebuilds it from the values in the live
// colour, and releases the owned payloads of the rest. Field values are not
// released recursively here; each is condemned or kept on its own step.
func (m *Machine) sweep() {
	var newRoot *Value
	newSize := 0

	v := m.root
	for v != nil {
		next := v.next
		if v.colour() == m.colour {
			v.next = newRoot
			newRoot = v
			newSize++
		} else {
			if m.settings.DebugGC {
				logrus.WithField("value", m.toString(v, StyleRaw)).Info("gc: releasing")
			}

			switch v.Type() {
			case VString:
				v.s = nil
			case VTuple, VData:
				v.items = nil
			case VActivation:
				v.a.state = nil
				v.a.parent = nil
				v.a.closure = nil
			case VClosure:
				v.c.previousActivation = nil
			case VBuiltinClosure:
				v.bc = builtinClosure{}
			}
			v.tag = 0
			v.next = nil
		}
		v = next
	}

	if m.settings.TimeGC {
		logrus.WithFields(logrus.Fields{
			"collected": m.size - newSize,
			"remaining": newSize,
		}).Info("gc: sweep")
	}

	m.root = newRoot
	m.size = newSize
}
