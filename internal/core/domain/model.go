package domain

// Commodity is the utility category a metering device measures. It is rarely
// stated directly and must be inferred from auxiliary fields.
type Commodity string

const (
	CommodityElectric Commodity = "electric"
	CommodityGas      Commodity = "gas"
	CommodityWater    Commodity = "water"
)

// SensorReading is one decoded field of one radio telegram. Value is a
// number, boolean or string; nil readings are dropped at the boundary.
type SensorReading struct {
	DeviceKey   string
	Field       string
	Value       any
	DeviceName  string
	DeviceModel string
	RadioName   string
	RadioFreq   string
}

// BridgeInfo identifies this bridge instance on the bus.
type BridgeInfo struct {
	Name     string
	Id       string
	IdSuffix string
	Version  string
}

// BridgeManufacturer marks every discovery entry this bridge publishes.
// The nuke scan deletes only entries carrying this manufacturer.
const BridgeManufacturer = "rtl-haos"

const (
	EntityDomainSensor       = "sensor"
	EntityDomainBinarySensor = "binary_sensor"
	EntityDomainButton       = "button"
)
