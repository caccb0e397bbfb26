package scheduling

import "github.com/carebook/carebook/internal/platform/apperr"

var (
	ErrOutsideWorkingHours      = apperr.New(apperr.KindOutsideWorkingHours, "requested time is outside working hours")
	ErrTimeSlotAlreadyBooked    = apperr.New(apperr.KindTimeSlotAlreadyBooked, "time slot is already booked")
	ErrModificationWindowClosed = apperr.New(apperr.KindModificationWindowClosed, "appointment can no longer be modified")
	ErrPractitionerNotFound     = apperr.New(apperr.KindNotFound, "practitioner not found")
	ErrServiceNotFound          = apperr.New(apperr.KindNotFound, "service not found")
	ErrSubjectNotFound          = apperr.New(apperr.KindNotFound, "subject profile not found")
	ErrAppointmentNotFound      = apperr.New(apperr.KindNotFound, "appointment not found")
	ErrUnauthorized             = apperr.New(apperr.KindUnauthorized, "not allowed to act on this appointment")
	ErrBookingTimeout           = apperr.New(apperr.KindRetryable, "booking timed out, try again")
	ErrInvalidTransition        = apperr.New(apperr.KindInvalidState, "status transition not allowed")
	ErrStartInPast              = apperr.New(apperr.KindOutsideWorkingHours, "requested start is in the past")
)

// ErrMeetingUnavailable wraps meeting-provider failures. A remote booking
// without its meeting link is never created.
var ErrMeetingUnavailable = apperr.New(apperr.KindRetryable, "meeting provider unavailable")
