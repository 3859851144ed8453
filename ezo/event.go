package ezo

import "fmt"

// Category tells which part of the snapshot an Event refers to
type Category byte

const (
	LedChanged Category = iota
	InfoChanged
	MeasurementChanged
	TransportStatus
)

var categoryNames = [...]string{
	LedChanged:         "LedChanged",
	InfoChanged:        "InfoChanged",
	MeasurementChanged: "MeasurementChanged",
	TransportStatus:    "TransportStatus",
}

func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return fmt.Sprintf("Category(%d)", c)
}

// StatusKind is a transport level response code of an EZO stamp
type StatusKind byte

const (
	StatusNone StatusKind = iota
	Success
	UnknownCommand
	OverVoltage
	UnderVoltage
	DeviceReset
	BootComplete
	DeviceAsleep
	DeviceWoken
)

var statusNames = [...]string{
	StatusNone:     "None",
	Success:        "Success",
	UnknownCommand: "UnknownCommand",
	OverVoltage:    "OverVoltage",
	UnderVoltage:   "UnderVoltage",
	DeviceReset:    "DeviceReset",
	BootComplete:   "BootComplete",
	DeviceAsleep:   "DeviceAsleep",
	DeviceWoken:    "DeviceWoken",
}

func (s StatusKind) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("StatusKind(%d)", s)
}

// statusCodes is checked in order; the first code contained in a frame wins
var statusCodes = []struct {
	code string
	kind StatusKind
}{
	{"OK", Success},
	{"*ER", UnknownCommand},
	{"*OV", OverVoltage},
	{"*UV", UnderVoltage},
	{"*RS", DeviceReset},
	{"*RE", BootComplete},
	{"*SL", DeviceAsleep},
	{"*WA", DeviceWoken},
}

// Response identifies which query a frame answers
type Response string

const (
	ResponseNone        Response = ""
	ResponseLED         Response = "?L"
	ResponseTemperature Response = "?T"
	ResponseCalibration Response = "?CAL"
	ResponseSlope       Response = "?SLOPE"
	ResponseInfo        Response = "?I"
	ResponseStatus      Response = "?STATUS"
	ResponseName        Response = "?NAME"
	// ResponseMeasurement tags bare readings, the answer to R
	ResponseMeasurement Response = "R"
)

// Event is a single change notification emitted by the Parser.
// Props is a copy of the snapshot taken right after the change.
type Event struct {
	Kind     Category
	Response Response
	Status   StatusKind
	Led      bool
	Props    Properties
}

func (e Event) String() string {
	switch e.Kind {
	case LedChanged:
		return fmt.Sprintf("%v(%v)", e.Kind, e.Led)
	case TransportStatus:
		return fmt.Sprintf("%v(%v)", e.Kind, e.Status)
	}
	return e.Kind.String()
}

// Handler receives parser events
type Handler func(ev Event)
