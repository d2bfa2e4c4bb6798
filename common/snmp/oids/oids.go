package oids

import "strconv"

// Centralized SNMP OIDs used by the polling client, the vendor profiles and
// the identity resolver. Constants follow the MIB-II, Host Resources and
// Printer MIB layouts so callers never scatter raw dotted strings.

const (
	// --- MIB-II System (RFC 1213) ---

	SysDescr    = "1.3.6.1.2.1.1.1.0"
	SysObjectID = "1.3.6.1.2.1.1.2.0"
	SysUpTime   = "1.3.6.1.2.1.1.3.0"
	SysName     = "1.3.6.1.2.1.1.5.0"
	SysLocation = "1.3.6.1.2.1.1.6.0"

	// --- Host Resources MIB (RFC 2790) ---

	// HrDeviceDescr points at HOST-RESOURCES-MIB::hrDeviceDescr.1
	HrDeviceDescr = "1.3.6.1.2.1.25.3.2.1.3.1"
	// HrDeviceStatus.1: 1=unknown 2=running 3=warning 4=testing 5=down
	HrDeviceStatus = "1.3.6.1.2.1.25.3.2.1.5.1"
	// HrPrinterStatus.1: 1=other 2=unknown 3=idle 4=printing 5=warmup
	HrPrinterStatus = "1.3.6.1.2.1.25.3.5.1.1.1"
)

const (
	// --- Printer MIB (RFC 3805) ---

	// PrtGeneralSerialNumber (prtGeneralSerialNumber.1) is the canonical serial.
	PrtGeneralSerialNumber = "1.3.6.1.2.1.43.5.1.1.17.1"
	PrtGeneralPrinterName  = "1.3.6.1.2.1.43.5.1.1.16.1"
	// PrtMarkerLifeCount targets prtMarkerLifeCount.1 and is the generic total page counter.
	PrtMarkerLifeCount = "1.3.6.1.2.1.43.10.2.1.4.1"

	// prtInputCurrentLevel / prtInputMaxCapacity for input tray 1
	PrtInputCurrentLevel = "1.3.6.1.2.1.43.8.2.1.10.1.1"
	PrtInputMaxCapacity  = "1.3.6.1.2.1.43.8.2.1.9.1.1"

	// Supply/colorant table columns (Printer-MIB::prtMarkerSuppliesEntry / prtMarkerColorantEntry).
	// Append ".1.<slot>" to address a single row.
	PrtMarkerSuppliesEntry   = "1.3.6.1.2.1.43.11.1.1"
	PrtMarkerSuppliesColorID = "1.3.6.1.2.1.43.11.1.1.3"
	PrtMarkerSuppliesClass   = "1.3.6.1.2.1.43.11.1.1.4"
	PrtMarkerSuppliesType    = "1.3.6.1.2.1.43.11.1.1.5"
	PrtMarkerSuppliesDesc    = "1.3.6.1.2.1.43.11.1.1.6"
	PrtMarkerSuppliesMaxCap  = "1.3.6.1.2.1.43.11.1.1.8"
	PrtMarkerSuppliesLevel   = "1.3.6.1.2.1.43.11.1.1.9"

	PrtMarkerColorantValue = "1.3.6.1.2.1.43.12.1.1.4"
)

const (
	// --- Port Monitor (PWG 5100.6) ---

	// PpmPrinterIEEE1284DeviceID provides an IEEE-1284 string via SNMP.
	PpmPrinterIEEE1284DeviceID = "1.3.6.1.4.1.2699.1.2.1.2.1.3.1"
)

// prtMarkerSuppliesType values that hold a colorant.
const (
	SupplyTypeOther          = 1
	SupplyTypeUnknown        = 2
	SupplyTypeToner          = 3
	SupplyTypeInk            = 5
	SupplyTypeInkCartridge   = 6
	SupplyTypeInkRibbon      = 7
	SupplyTypeTonerCartridge = 21
)

// SupplyRow builds the OID for one supplies-table column at a given slot.
func SupplyRow(column string, slot int) string {
	return column + ".1." + strconv.Itoa(slot)
}

// ColorantRow builds the OID for prtMarkerColorantValue at a given index.
func ColorantRow(index int) string {
	return PrtMarkerColorantValue + ".1." + strconv.Itoa(index)
}
