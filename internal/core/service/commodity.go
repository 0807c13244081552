package service

import (
	"math"
	"strconv"
	"strings"

	"github.com/berfenger/rtlhaos2mqtt/internal/core/domain"
	"github.com/berfenger/rtlhaos2mqtt/internal/core/meta"
)

// ertTypeCommodity maps Itron ERT endpoint type codes (rtlamr conventions)
// to a commodity.
var ertTypeCommodity = map[int]domain.Commodity{
	4:  domain.CommodityElectric,
	5:  domain.CommodityElectric,
	7:  domain.CommodityElectric,
	8:  domain.CommodityElectric,
	0:  domain.CommodityGas,
	1:  domain.CommodityGas,
	2:  domain.CommodityGas,
	9:  domain.CommodityGas,
	12: domain.CommodityGas,
	3:  domain.CommodityWater,
	11: domain.CommodityWater,
	13: domain.CommodityWater,
}

// utilityTotalFields are the cumulative meter totals that get commodity-aware
// normalization and metadata. Other fields pass through untouched.
var utilityTotalFields = map[string]bool{
	"Consumption":      true,
	"consumption":      true,
	"consumption_data": true,
	"meter_reading":    true,
}

func IsUtilityTotalField(field string) bool {
	return utilityTotalFields[field]
}

// InferCommodity inspects one field for a commodity hint. ERT type codes win
// over textual MeterType values; a generic "type" field is accepted in either
// form because decoders disagree on what they put there.
func InferCommodity(field string, value any) (domain.Commodity, bool) {
	switch field {
	case "ert_type", "ertType", "ERTType":
		return CommodityFromERTType(value)
	case "MeterType", "meter_type", "metertype":
		return CommodityFromMeterType(value)
	case "type", "Type":
		return CommodityFromTypeField(value)
	}
	return "", false
}

func CommodityFromERTType(value any) (domain.Commodity, bool) {
	t, ok := intValue(value)
	if !ok {
		return "", false
	}
	c, ok := ertTypeCommodity[t]
	return c, ok
}

func CommodityFromMeterType(value any) (domain.Commodity, bool) {
	s, ok := value.(string)
	if !ok {
		return "", false
	}
	return commodityFromVocab(s)
}

func CommodityFromTypeField(value any) (domain.Commodity, bool) {
	switch value.(type) {
	case float64, float32, int, int64, int32:
		return CommodityFromERTType(value)
	}
	s, ok := value.(string)
	if !ok {
		return "", false
	}
	return commodityFromVocab(s)
}

func commodityFromVocab(s string) (domain.Commodity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "electric", "electricity", "energy", "power":
		return domain.CommodityElectric, true
	case "gas", "natural gas":
		return domain.CommodityGas, true
	case "water":
		return domain.CommodityWater, true
	}
	return "", false
}

// NormalizeUtilityValue converts a raw utility total once the commodity is
// known. ERT-SCM/SCMplus electric meters report hundredths of kWh; gas
// counters arrive in ft³ and optionally convert to billing CCF. Values that
// need no conversion pass through unchanged so integers stay integers.
func NormalizeUtilityValue(commodity domain.Commodity, model string, gasUnit string, value any) any {
	if commodity == "" {
		return value
	}

	v, ok := utilityFloat(value)
	if !ok {
		return value
	}

	m := strings.ToLower(strings.TrimSpace(model))

	switch commodity {
	case domain.CommodityElectric:
		if strings.HasPrefix(m, "ert-scm") || strings.HasPrefix(m, "scmplus") {
			return round2(v * 0.01)
		}
	case domain.CommodityGas:
		if gasUnitIsCCF(gasUnit) {
			return round2(v * 0.01)
		}
	}
	return value
}

// UtilityMetaOverride returns display metadata for a utility total once the
// device's commodity is known. Neptune-R900 water meters report gallons, the
// rest of the water family raw ft³.
func UtilityMetaOverride(commodity domain.Commodity, field string, model string, gasUnit string) (meta.FieldMeta, bool) {
	switch commodity {
	case domain.CommodityElectric:
		return meta.FieldMeta{Unit: "kWh", DeviceClass: "energy", Icon: "mdi:flash", Name: "Energy Reading"}, true
	case domain.CommodityGas:
		if gasUnitIsCCF(gasUnit) {
			return meta.FieldMeta{Unit: "CCF", DeviceClass: "gas", Icon: "mdi:fire", Name: "Gas Usage"}, true
		}
		return meta.FieldMeta{Unit: "ft³", DeviceClass: "gas", Icon: "mdi:fire", Name: "Gas Usage"}, true
	case domain.CommodityWater:
		if field == "meter_reading" && strings.HasPrefix(strings.ToLower(strings.TrimSpace(model)), "neptune-r900") {
			return meta.FieldMeta{Unit: "gal", DeviceClass: "water", Icon: "mdi:water-pump", Name: "Water Usage"}, true
		}
		return meta.FieldMeta{Unit: "ft³", DeviceClass: "water", Icon: "mdi:water-pump", Name: "Water Reading"}, true
	}
	return meta.FieldMeta{}, false
}

func gasUnitIsCCF(gasUnit string) bool {
	switch strings.ToLower(strings.TrimSpace(gasUnit)) {
	case "ccf", "centum_cubic_feet":
		return true
	}
	return false
}

func intValue(value any) (int, bool) {
	switch t := value.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case int32:
		return int(t), true
	case float64:
		return int(t), true
	case float32:
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func utilityFloat(value any) (float64, bool) {
	if f, ok := asFloat(value); ok {
		return f, true
	}
	if s, ok := value.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err == nil {
			return f, true
		}
	}
	return 0, false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
