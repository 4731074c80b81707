// Package datex turns decoded DATEX II feeds (SOAP-wrapped v2 and
// messageContainer v3) into GeoJSON feature collections.
package datex

import (
	"strings"

	"github.com/kjstillabower/ndw-feed-service/internal/xmltree"
)

// Element paths, from the document root, of records that may repeat.
const (
	PathV2Situation             = "Envelope.Body.d2LogicalModel.payloadPublication.situation"
	PathV2SituationRecord       = "Envelope.Body.d2LogicalModel.payloadPublication.situation.situationRecord"
	PathV3Situation             = "messageContainer.payload.situation"
	PathV3SituationRecord       = "messageContainer.payload.situation.situationRecord"
	PathV3AccessRegulation      = "messageContainer.payload.controlledZoneTable.urbanVehicleAccessRegulation"
	PathV2VMSUnitRecord         = "Envelope.Body.d2LogicalModel.payloadPublication.vmsUnitTable.vmsUnitRecord"
	PathV2SiteMeasurements      = "Envelope.Body.d2LogicalModel.payloadPublication.siteMeasurements"
	PathV2MeasurementSiteRecord = "Envelope.Body.d2LogicalModel.payloadPublication.measurementSiteTable.measurementSiteRecord"
	PathParkingRecord           = "d2LogicalModel.payloadPublication.genericPublicationExtension.parkingTablePublication.parkingTable.parkingRecord"
	PathParkingRecordStatus     = "payload.parkingRecordStatus"
)

// Alternative roots for tables published without the SOAP envelope.
const (
	pathMeasurementSiteRecord = "d2LogicalModel.payloadPublication.measurementSiteTable.measurementSiteRecord"
	pathV3ParkingRecordStatus = "messageContainer.payload.parkingRecordStatus"
	pathV2ParkingRecordStatus = "d2LogicalModel.payloadPublication.genericPublicationExtension.parkingStatusPublication.parkingRecordStatus"
)

// ArrayPaths is the always-list declaration shared by every NDW DATEX feed.
var ArrayPaths = xmltree.ArrayPaths{
	PathV3Situation,
	PathV3AccessRegulation,
	PathV2Situation,
	PathV2VMSUnitRecord,
	PathV2SiteMeasurements,
	PathV2MeasurementSiteRecord,
	PathParkingRecord,
	PathParkingRecordStatus,
	PathV3SituationRecord,
	PathV2SituationRecord,
}

// lookup resolves a root-anchored dotted path against the decoded document.
func lookup(root *xmltree.Node, path string) []*xmltree.Node {
	if root == nil {
		return nil
	}
	first, rest, ok := strings.Cut(path, ".")
	if first != root.Name {
		return nil
	}
	if !ok {
		return []*xmltree.Node{root}
	}
	return root.Find(rest)
}

// lookupFirst returns the records at the first path that has any.
func lookupFirst(root *xmltree.Node, paths ...string) []*xmltree.Node {
	for _, p := range paths {
		if nodes := lookup(root, p); len(nodes) > 0 {
			return nodes
		}
	}
	return nil
}
