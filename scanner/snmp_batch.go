package scanner

import (
	"context"
	"fmt"
	"strings"

	"printmaster/telemetry/common/logger"

	"github.com/gosnmp/gosnmp"
)

const (
	defaultOIDBatchSize = 3
)

// clusterOIDs splits the provided OID list into fixed-size batches, preserving order.
func clusterOIDs(oids []string, batchSize int) [][]string {
	if batchSize <= 0 {
		batchSize = defaultOIDBatchSize
	}
	if len(oids) == 0 {
		return nil
	}

	batches := make([][]string, 0, (len(oids)+batchSize-1)/batchSize)
	for i := 0; i < len(oids); i += batchSize {
		end := i + batchSize
		if end > len(oids) {
			end = len(oids)
		}
		chunk := make([]string, end-i)
		copy(chunk, oids[i:end])
		batches = append(batches, chunk)
	}
	return batches
}

// batchedGet fetches OIDs in clusters, limiting each PDU to batchSize entries.
// An SNMPv1 agent rejects the whole PDU when one OID is unknown (noSuchName),
// so a batch answered with an error status is retried one OID at a time.
func batchedGet(ctx context.Context, client SNMPClient, oids []string, batchSize int) ([]gosnmp.SnmpPDU, error) {
	batches := clusterOIDs(oids, batchSize)
	if len(batches) == 0 {
		return nil, nil
	}

	var all []gosnmp.SnmpPDU
	for _, batch := range batches {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		packet, err := client.Get(batch)
		if err != nil {
			return nil, fmt.Errorf("SNMP GET failed for batch (first oid %s): %w", batch[0], err)
		}
		if packet == nil {
			continue
		}
		if packet.Error != gosnmp.NoError && len(batch) > 1 {
			if logger.Global != nil {
				logger.Global.TraceTag("snmp_batch", "Batch rejected, retrying per OID", "first_oid", batch[0], "error_status", packet.Error.String())
			}
			for _, oid := range batch {
				single, err := client.Get([]string{oid})
				if err != nil {
					return nil, fmt.Errorf("SNMP GET failed for %s: %w", oid, err)
				}
				if single != nil && single.Error == gosnmp.NoError {
					all = append(all, single.Variables...)
				}
			}
			continue
		}
		if packet.Error != gosnmp.NoError {
			continue
		}
		all = append(all, packet.Variables...)
	}
	return all, nil
}

// pduValues indexes PDUs by normalized OID, dropping the SNMP exception
// types (noSuchObject, noSuchInstance, endOfMibView) and nulls.
func pduValues(pdus []gosnmp.SnmpPDU) map[string]interface{} {
	out := make(map[string]interface{}, len(pdus))
	for _, pdu := range pdus {
		switch pdu.Type {
		case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView, gosnmp.Null:
			continue
		}
		if pdu.Value == nil {
			continue
		}
		out[normalizeOID(pdu.Name)] = pdu.Value
	}
	return out
}

func normalizeOID(oid string) string {
	return strings.TrimPrefix(oid, ".")
}
