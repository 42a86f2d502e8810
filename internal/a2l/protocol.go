package a2l

import (
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// brsOffset marks CAN identifiers of bit-rate-switching ECU families.
const brsOffset = 0x40000000

var (
	numberPattern      = regexp.MustCompile(`0[xX][0-9A-Fa-f]+|\d+`)
	canMasterPattern   = regexp.MustCompile(`CAN_ID_MASTER\s+((?:0[xX])?[0-9A-Fa-f]+)`)
	canSlavePattern    = regexp.MustCompile(`CAN_ID_SLAVE\s+((?:0[xX])?[0-9A-Fa-f]+)`)
	baudratePattern    = regexp.MustCompile(`BAUDRATE\s+((?:0[xX])?[0-9A-Fa-f]+)`)
	samplePointPattern = regexp.MustCompile(`SAMPLE_POINT\s+((?:0[xX])?[0-9A-Fa-f]+)`)
	hostPattern        = regexp.MustCompile(`(?:ADDRESS|HOST_NAME)\s+"([^"]*)"`)
	portMarker         = regexp.MustCompile(`/\*\s*PORT\s*\*/`)
	numericLine        = regexp.MustCompile(`^(0[xX][0-9A-Fa-f]+|\d+)$`)
)

// firstBlock returns the trimmed lines of the first "/begin name" block,
// from the begin line up to but excluding "/end name". Blank lines are
// dropped unless keepBlank is set.
func firstBlock(lines []string, name string, keepBlank bool) []string {
	begin := regexp.MustCompile(`^/begin\s+` + name + `(?:\s|$)`)
	end := regexp.MustCompile(`^/end\s+` + name + `(?:\s|$)`)
	var block []string
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if block == nil {
			if begin.MatchString(line) {
				block = []string{line}
			}
			continue
		}
		if end.MatchString(line) {
			return block
		}
		if line != "" || keepBlank {
			block = append(block, line)
		}
	}
	return block
}

// parseNumber accepts 0x-prefixed hex or decimal.
func parseNumber(s string) (uint64, bool) {
	var (
		v   uint64
		err error
	)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err = strconv.ParseUint(s[2:], 16, 64)
	} else {
		v, err = strconv.ParseUint(s, 10, 64)
	}
	return v, err == nil
}

func (p *Parser) parseProtocol(lines []string) ProtocolConfig {
	var pc ProtocolConfig

	// Feste Zeilenpositionen, Leerzeilen zählen mit
	if block := firstBlock(lines, "PROTOCOL_LAYER", true); len(block) > 9 {
		for i := 2; i <= 8; i++ {
			pc.Timeouts = append(pc.Timeouts, p.blockNumber(block, i, "timeout"))
		}
		pc.MaxCTO = p.blockNumber(block, 9, "max_cto")
		if len(block) > 10 {
			pc.MaxDTO = p.blockNumber(block, 10, "max_dto")
		}
	}

	if block := firstBlock(lines, "XCP_ON_CAN", false); block != nil {
		pc.CAN = p.parseCAN(block)
	}

	switch {
	case firstBlock(lines, "XCP_ON_UDP_IP", false) != nil:
		pc.Ethernet = p.parseEthernet(firstBlock(lines, "XCP_ON_UDP_IP", false), "udp")
	case firstBlock(lines, "XCP_ON_TCP_IP", false) != nil:
		pc.Ethernet = p.parseEthernet(firstBlock(lines, "XCP_ON_TCP_IP", false), "tcp")
	case pc.CAN == nil:
		p.logger.Error("No XCP transport block found, using Ethernet defaults",
			zap.String("host", p.defaultHost),
			zap.Int("port", p.defaultPort))
		pc.Ethernet = &EthernetConfig{Host: p.defaultHost, Port: p.defaultPort, Protocol: "udp"}
	}

	return pc
}

// blockNumber reads the first number of block[i]; 0 when there is none.
func (p *Parser) blockNumber(block []string, i int, field string) int {
	text := stripComments(block[i])
	m := numberPattern.FindString(text)
	if m != "" {
		if v, ok := parseNumber(m); ok {
			return int(v)
		}
	}
	p.logger.Error("Unparsable protocol layer value",
		zap.String("field", field),
		zap.Int("offset", i),
		zap.String("line", block[i]))
	return 0
}

func submatchNumber(re *regexp.Regexp, line string) (uint64, bool) {
	m := re.FindStringSubmatch(stripComments(line))
	if m == nil {
		return 0, false
	}
	return parseNumber(m[1])
}

func (p *Parser) parseCAN(block []string) *CANConfig {
	can := &CANConfig{}
	for _, line := range block {
		if v, ok := submatchNumber(canMasterPattern, line); ok {
			can.MasterID = uint32(v)
		}
		if v, ok := submatchNumber(canSlavePattern, line); ok {
			can.SlaveID = uint32(v)
		}
		if v, ok := submatchNumber(baudratePattern, line); ok {
			can.Baudrate = int(v)
		}
		if v, ok := submatchNumber(samplePointPattern, line); ok {
			can.SamplePoint = int(v)
		}
	}
	can.MasterID = adjustCANID(can.MasterID, p.ecuFamily)
	can.SlaveID = adjustCANID(can.SlaveID, p.ecuFamily)
	return can
}

// adjustCANID adds the bit-rate-switch flag for EMS and BCM ECU families.
func adjustCANID(id uint32, family string) uint32 {
	if (family == "EMS" || strings.Contains(family, "BCM")) && id < brsOffset {
		return id + brsOffset
	}
	return id
}

func (p *Parser) parseEthernet(block []string, protocol string) *EthernetConfig {
	eth := &EthernetConfig{Protocol: protocol}

	var numeric []int
	for _, line := range block[1:] {
		if m := hostPattern.FindStringSubmatch(line); m != nil && eth.Host == "" {
			eth.Host = m[1]
			continue
		}
		if portMarker.MatchString(line) {
			if m := numberPattern.FindString(stripComments(line)); m != "" {
				if v, ok := parseNumber(m); ok {
					eth.Port = int(v)
				}
			}
			continue
		}
		if m := numericLine.FindString(strings.TrimSpace(stripComments(line))); m != "" {
			if v, ok := parseNumber(m); ok {
				numeric = append(numeric, int(v))
			}
		}
	}
	// The first bare number is the protocol version, the second the port.
	if eth.Port == 0 && len(numeric) > 1 {
		eth.Port = numeric[1]
	}

	if eth.Host == "" {
		p.logger.Error("No Ethernet host in A2L, using default", zap.String("host", p.defaultHost))
		eth.Host = p.defaultHost
	}
	if eth.Port == 0 {
		p.logger.Error("No Ethernet port in A2L, using default", zap.Int("port", p.defaultPort))
		eth.Port = p.defaultPort
	}
	return eth
}
