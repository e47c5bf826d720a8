package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zboralski/faultplugin/internal/plugin"
	"github.com/zboralski/faultplugin/internal/ui/colorize"
	"github.com/zboralski/faultplugin/internal/wire"
)

type asmLine struct {
	addr uint64
	text string
}

// parseAssembler splits "[ %8x ]: %s !!" lines. Lines that do not match
// are kept as text with a zero address.
func parseAssembler(s string) []asmLine {
	var out []asmLine
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		end := strings.Index(line, "]:")
		if !strings.HasPrefix(line, "[") || end < 0 {
			out = append(out, asmLine{text: line})
			continue
		}
		addr, err := strconv.ParseUint(strings.TrimSpace(line[1:end]), 16, 64)
		if err != nil {
			out = append(out, asmLine{text: line})
			continue
		}
		text := strings.TrimSpace(strings.TrimSuffix(line[end+2:], "!!"))
		out = append(out, asmLine{addr: addr, text: text})
	}
	return out
}

func regName(armArch bool, i int) string {
	if armArch {
		switch i {
		case 13:
			return "sp"
		case 14:
			return "lr"
		case 15:
			return "pc"
		case 16:
			return "xpsr"
		}
		return fmt.Sprintf("r%d", i)
	}
	if i == 32 {
		return "pc"
	}
	return fmt.Sprintf("x%d", i)
}

func showReport(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var d wire.Data
	if err := d.Unmarshal(raw); err != nil {
		return fmt.Errorf("decode %s: %w", args[0], err)
	}
	printReport(cmd.OutOrStdout(), &d)
	return nil
}

func section(w io.Writer, title string, n int) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s %s %s\n", colorize.Header("▶"), colorize.Header(title), colorize.Detail(fmt.Sprintf("(%d)", n)))
}

func printAsm(w io.Writer, indent, s string) {
	for _, l := range parseAssembler(s) {
		fmt.Fprintf(w, "%s%s  %s\n", indent, colorize.Address(l.addr), colorize.Instruction(l.text))
	}
}

func printReport(w io.Writer, d *wire.Data) {
	reason := d.EndReason
	if d.EndPoint != 0 {
		reason = colorize.Header(reason)
	} else {
		reason = colorize.Fault(reason)
	}
	fmt.Fprintf(w, "%s faultplugin ─ session report\n", colorize.Header("▶"))
	fmt.Fprintf(w, "  %s %s\n", colorize.Detail("End:"), reason)
	fmt.Fprintln(w, colorize.Border("─────────────────────────────────────────"))

	if len(d.TBInformations) > 0 {
		section(w, "translation blocks", len(d.TBInformations))
		for _, tb := range d.TBInformations {
			fmt.Fprintf(w, "  %s %s\n", colorize.Address(tb.BaseAddress),
				colorize.Detail(fmt.Sprintf("%d bytes  %d insn  %d exec", tb.Size, tb.InstructionCount, tb.NumOfExec)))
			printAsm(w, "    ", tb.Assembler)
		}
	}

	if len(d.TBExecOrders) > 0 {
		section(w, "execution order", len(d.TBExecOrders))
		for _, e := range d.TBExecOrders {
			fmt.Fprintf(w, "  %s %s\n", colorize.Detail(fmt.Sprintf("%6d", e.Pos)), colorize.Address(e.TBBaseAddress))
		}
	}

	if len(d.MemInfos) > 0 {
		section(w, "memory accesses", len(d.MemInfos))
		for _, m := range d.MemInfos {
			dir := colorize.Detail("R")
			if m.Direction == 1 {
				dir = colorize.Store("W")
			}
			fmt.Fprintf(w, "  %s %s %s %s %s\n", colorize.Address(m.InsAddress), dir,
				colorize.Address(m.MemoryAddress),
				colorize.Detail(fmt.Sprintf("%d bytes", 1<<m.Size)),
				colorize.Detail(fmt.Sprintf("x%d", m.Counter)))
		}
	}

	if ri := d.RegisterInfo; ri != nil && len(ri.RegisterDumps) > 0 {
		section(w, "register dumps", len(ri.RegisterDumps))
		arm := ri.ArchType == plugin.ArchTypeARM
		for _, rd := range ri.RegisterDumps {
			fmt.Fprintf(w, "  %s %s %s\n", colorize.Detail("pc"), colorize.Address(rd.PC),
				colorize.Detail(fmt.Sprintf("tb %d", rd.TBCount)))
			for i, v := range rd.RegisterValues {
				if i%4 == 0 {
					fmt.Fprint(w, "   ")
				}
				fmt.Fprintf(w, " %5s %s", colorize.Detail(regName(arm, i)), colorize.Address(v))
				if i%4 == 3 || i == len(rd.RegisterValues)-1 {
					fmt.Fprintln(w)
				}
			}
		}
	}

	if len(d.FaultedDatas) > 0 {
		section(w, "faulted blocks", len(d.FaultedDatas))
		for _, f := range d.FaultedDatas {
			fmt.Fprintf(w, "  %s %s\n", colorize.Fault("fault"), colorize.Address(f.TriggerAddress))
			printAsm(w, "    ", f.Assembler)
		}
	}

	if len(d.MemDumpInfos) > 0 {
		section(w, "memory dumps", len(d.MemDumpInfos))
		for _, md := range d.MemDumpInfos {
			fmt.Fprintf(w, "  %s %s\n", colorize.Address(md.Address),
				colorize.Detail(fmt.Sprintf("%d bytes  %d snapshots", md.Len, len(md.Dumps))))
			var base []byte
			for i, dump := range md.Dumps {
				fmt.Fprintf(w, "    %s %s\n", colorize.Detail(fmt.Sprintf("[%d]", i)), colorize.HexDiff(dump, base))
				if i == 0 {
					base = dump
				}
			}
		}
	}

	if len(d.MemMapInfos) > 0 {
		section(w, "memory map", len(d.MemMapInfos))
		for _, mm := range d.MemMapInfos {
			fmt.Fprintf(w, "  %s %s\n", colorize.Address(mm.Address), colorize.Detail(fmt.Sprintf("0x%x bytes", mm.Size)))
		}
	}
}
