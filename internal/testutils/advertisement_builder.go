package testutils

import (
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/srg/beaconmon/internal/engine"
)

// AdvertisementBuilder builds beacon advertisements for engine tests
type AdvertisementBuilder struct {
	adv engine.Advertisement
}

// NewAdvertisementBuilder starts an advertisement with a fixed address and -60 dBm
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{adv: engine.Advertisement{
		Address: "AA:BB:CC:DD:EE:FF",
		RSSI:    -60,
	}}
}

func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.adv.Address = addr
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.RSSI = rssi
	return b
}

// WithManufacturerData sets the raw payload, company id included
func (b *AdvertisementBuilder) WithManufacturerData(data []byte) *AdvertisementBuilder {
	b.adv.ManufacturerData = data
	return b
}

// IBeacon encodes an Apple iBeacon frame. Panics on a malformed UUID.
func (b *AdvertisementBuilder) IBeacon(proximity string, major, minor uint16, txPower int8) *AdvertisementBuilder {
	b.adv.ManufacturerData = frame([]byte{0x4c, 0x00, 0x02, 0x15}, proximity, major, minor, txPower)
	return b
}

// AltBeacon encodes an AltBeacon frame under the Radius Networks company id
func (b *AdvertisementBuilder) AltBeacon(id1 string, id2, id3 uint16, refRSSI int8) *AdvertisementBuilder {
	data := frame([]byte{0x18, 0x01, 0xbe, 0xac}, id1, id2, id3, refRSSI)
	b.adv.ManufacturerData = append(data, 0x00)
	return b
}

func (b *AdvertisementBuilder) Build() engine.Advertisement {
	adv := b.adv
	adv.ManufacturerData = append([]byte(nil), b.adv.ManufacturerData...)
	return adv
}

func frame(prefix []byte, id1 string, id2, id3 uint16, power int8) []byte {
	u := uuid.MustParse(id1)
	data := append([]byte(nil), prefix...)
	data = append(data, u[:]...)
	data = binary.BigEndian.AppendUint16(data, id2)
	data = binary.BigEndian.AppendUint16(data, id3)
	return append(data, byte(power))
}
