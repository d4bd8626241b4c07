package orthanc

import "time"

// ToDicomDate formats a time as a DICOM DA value (YYYYMMDD).
func ToDicomDate(t time.Time) string {
	return t.Format("20060102")
}

// ToDicomTime formats a time as a DICOM TM value (HHMMSS).
func ToDicomTime(t time.Time) string {
	return t.Format("150405")
}
