package parsers

import (
	"strings"

	"github.com/rileyhilliard/fleetwatch/internal/model"
)

const (
	queueSectionMarker = "QUEUE INFORMATION:"
	nodeSectionMarker  = "NODE INFORMATION:"

	queueColumns = 12
	nodeColumns  = 6
)

type section int

const (
	sectionNone section = iota
	sectionQueue
	sectionNode
)

// classify walks show_queues output and reports, for every line, which
// section it belongs to and whether it is structural. Data lines come
// back with SkipNone.
func classify(text string, visit func(n int, raw, trimmed string, sec section, reason SkipReason)) {
	sec := sectionNone
	for i, line := range splitLines(text) {
		n := i + 1
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.Contains(line, queueSectionMarker):
			sec = sectionQueue
			visit(n, line, trimmed, sec, SkipHeader)
		case strings.Contains(line, nodeSectionMarker):
			sec = sectionNode
			visit(n, line, trimmed, sec, SkipHeader)
		case trimmed == "":
			visit(n, line, trimmed, sec, SkipBlank)
		case sec == sectionNone:
			visit(n, line, trimmed, sec, SkipOutsideTable)
		case strings.HasPrefix(trimmed, "=") || strings.HasPrefix(trimmed, "-") || strings.HasPrefix(trimmed, "|"):
			visit(n, line, trimmed, sec, SkipSeparator)
		case strings.HasPrefix(trimmed, "Queue Name") || strings.HasPrefix(trimmed, "Node Type"):
			visit(n, line, trimmed, sec, SkipHeader)
		default:
			visit(n, line, trimmed, sec, SkipNone)
		}
	}
}

// ParseQueueRows parses the QUEUE INFORMATION section of show_queues:
//
//	Queue Name  Max Walltime  Max Jobs  Min Cores  Max Cores  Jobs Running ...
//	==========  ============  ========  =========  =========  ============ ...
//	HIE         24:00:00      -         0          2304       4     0  384  0  Exe  Y  Y
//
// Lines outside the section are reported as outside_table.
func ParseQueueRows(text string) []Row[model.QueueRecord] {
	var rows []Row[model.QueueRecord]
	classify(text, func(n int, raw, trimmed string, sec section, reason SkipReason) {
		switch {
		case reason != SkipNone:
			rows = append(rows, skip[model.QueueRecord](n, raw, reason))
		case sec != sectionQueue:
			rows = append(rows, skip[model.QueueRecord](n, raw, SkipOutsideTable))
		default:
			rows = append(rows, parseQueueLine(n, raw, trimmed))
		}
	})
	return rows
}

func parseQueueLine(n int, raw, trimmed string) Row[model.QueueRecord] {
	f := strings.Fields(trimmed)
	if len(f) < queueColumns {
		return skip[model.QueueRecord](n, raw, SkipTooFewColumns)
	}
	counts, ok := parseCounts(f[5], f[6], f[7], f[8])
	if !ok {
		return skip[model.QueueRecord](n, raw, SkipBadNumber)
	}
	return accept(n, raw, model.QueueRecord{
		QueueName:    f[0],
		MaxWalltime:  f[1],
		MaxJobs:      f[2],
		MinCores:     f[3],
		MaxCores:     f[4],
		JobsRunning:  counts[0],
		JobsPending:  counts[1],
		CoresRunning: counts[2],
		CoresPending: counts[3],
		QueueType:    f[9],
		Enabled:      f[10] == "Y",
		Reserved:     f[11] == "Y",
	})
}

// ParseNodeRows parses the NODE INFORMATION section of show_queues:
//
//	Node Type   Nodes Available  Cores/Node  Cores Available  Cores Running  Cores Free
//	Standard    494              96          47424            10080          37344
func ParseNodeRows(text string) []Row[model.NodeClassRecord] {
	var rows []Row[model.NodeClassRecord]
	classify(text, func(n int, raw, trimmed string, sec section, reason SkipReason) {
		switch {
		case reason != SkipNone:
			rows = append(rows, skip[model.NodeClassRecord](n, raw, reason))
		case sec != sectionNode:
			rows = append(rows, skip[model.NodeClassRecord](n, raw, SkipOutsideTable))
		default:
			rows = append(rows, parseNodeLine(n, raw, trimmed))
		}
	})
	return rows
}

func parseNodeLine(n int, raw, trimmed string) Row[model.NodeClassRecord] {
	f := strings.Fields(trimmed)
	if len(f) < nodeColumns {
		return skip[model.NodeClassRecord](n, raw, SkipTooFewColumns)
	}
	counts, ok := parseCounts(f[1], f[2], f[3], f[4], f[5])
	if !ok {
		return skip[model.NodeClassRecord](n, raw, SkipBadNumber)
	}
	return accept(n, raw, model.NodeClassRecord{
		NodeType:       f[0],
		NodesAvailable: counts[0],
		CoresPerNode:   counts[1],
		CoresAvailable: counts[2],
		CoresRunning:   counts[3],
		CoresFree:      counts[4],
	})
}

// ParseQueues parses the full show_queues output.
func ParseQueues(text string) model.QueueSection {
	return model.QueueSection{
		Queues: Records(ParseQueueRows(text)),
		Nodes:  Records(ParseNodeRows(text)),
	}
}
