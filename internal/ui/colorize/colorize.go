package colorize

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// getAssemblyLexer returns a lexer that understands GNU-style ARM and
// RISC-V assembly, with fallbacks
func getAssemblyLexer() chroma.Lexer {
	candidates := []string{"gas", "GAS", "armasm", "nasm"}
	for _, name := range candidates {
		if lexer := lexers.Get(name); lexer != nil {
			return lexer
		}
	}
	return nil
}

func getStyle() *chroma.Style {
	candidates := []string{StyleName, "dracula", "monokai"}
	for _, name := range candidates {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

func getTerminalFormatter() chroma.Formatter {
	candidates := []string{"terminal16m", "terminal256"}
	for _, name := range candidates {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

// IsDisabled returns true if colors are disabled via environment
func IsDisabled() bool {
	return os.Getenv("FAULTPLUGIN_NO_COLOR") != "" || os.Getenv("NO_COLOR") != ""
}

// Instruction highlights one line of disassembly.
func Instruction(insn string) string {
	if IsDisabled() {
		return insn
	}
	lexer := getAssemblyLexer()
	if lexer == nil {
		return insn
	}

	iterator, err := lexer.Tokenise(nil, insn)
	if err != nil {
		return insn
	}
	var buf strings.Builder
	if err := getTerminalFormatter().Format(&buf, getStyle(), iterator); err != nil {
		return insn
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func rgb(r, g, b int, s string) string {
	if IsDisabled() {
		return s
	}
	return fmt.Sprintf("\033[38;2;%d;%d;%dm%s\033[0m", r, g, b, s)
}

// Address formats a guest address in yellow
func Address(addr uint64) string {
	return rgb(255, 200, 0, fmt.Sprintf("%08x", addr))
}

// Header formats section headers in blue
func Header(s string) string {
	return rgb(86, 156, 214, s)
}

// Detail formats secondary text in light gray
func Detail(s string) string {
	return rgb(180, 180, 180, s)
}

// Border formats separators in dark gray
func Border(s string) string {
	return rgb(80, 80, 80, s)
}

// Fault formats faulted values and termination reasons in red
func Fault(s string) string {
	return rgb(255, 80, 80, s)
}

// Store formats the store direction marker in pink
func Store(s string) string {
	return rgb(255, 128, 192, s)
}

// HexDiff renders cur as hex, marking bytes that differ from base.
// A nil base marks nothing.
func HexDiff(cur, base []byte) string {
	var b strings.Builder
	for i, v := range cur {
		if i > 0 {
			b.WriteByte(' ')
		}
		h := fmt.Sprintf("%02x", v)
		if base != nil && i < len(base) && base[i] != v {
			h = Fault(h)
		} else {
			h = Detail(h)
		}
		b.WriteString(h)
	}
	return b.String()
}
