package hep

import "hash/fnv"

// SelectServer picks a stable index in [0, serverCount) for the 5-tuple
// described by f, so that every packet belonging to the same flow keeps
// landing on the same downstream HEP server — direction-independent, since
// src/dst are combined regardless of which side of the flow sent this
// packet. Grounded on the teacher's HEPReporter.selectConn, which hashes
// the same five fields with FNV-32a and reduces mod the live connection
// count.
func SelectServer(f Frame, serverCount int) int {
	if serverCount <= 1 {
		return 0
	}
	aIP, bIP, aPort, bPort := f.SrcIP, f.DstIP, f.SrcPort, f.DstPort
	if bIP.Less(aIP) || (aIP == bIP && bPort < aPort) {
		aIP, bIP, aPort, bPort = bIP, aIP, bPort, aPort
	}
	h := fnv.New32a()
	h.Write([]byte(aIP.String()))
	h.Write([]byte(bIP.String()))
	var port [4]byte
	port[0] = byte(aPort >> 8)
	port[1] = byte(aPort)
	port[2] = byte(bPort >> 8)
	port[3] = byte(bPort)
	h.Write(port[:])
	h.Write([]byte{f.Protocol})
	return int(h.Sum32() % uint32(serverCount))
}
