// Package safety statically rejects untrusted contract source before it is
// ever handed to the sandbox. Analysis is total: the source is never
// executed, only scanned.
package safety

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"

	"github.com/VictoriaMetrics/fastcache"
)

// allowedNamespacePrefixes lists the only using/import targets a contract
// may declare. Matching is prefix-based so that e.g. "System.Text.Json"
// passes under the "text" and "json" entries.
var allowedNamespacePrefixes = []string{
	"System.Collections.Generic",
	"System.Text",
	"System.Text.Json",
	"System.IO.Compression", // gzip-compression
	"System.Linq",
	"System.Threading",
	"System.Threading.Tasks",
	"System.Diagnostics",
	"System.Net.Http",
	"System.Xml",
	"System.Xml.Linq",
}

// forbiddenClasses is matched by substring against any constructed type
// name, to catch both bare and fully-qualified references.
var forbiddenClasses = []string{
	"File", "FileStream", "Directory", "Path",
	"Socket", "TcpClient", "TcpListener", "UdpClient", "NetworkStream",
	"Process", "ProcessStartInfo",
	"Assembly", "AssemblyName", "AppDomain",
	"CryptoStream",
	"Console",
	"Debugger",
	"ServiceController",
	"Marshal", "DllImportAttribute",
}

// forbiddenMethods is matched by substring against any member access.
var forbiddenMethods = []string{
	"Start", "Invoke", "Load", "Execute",
	"ReadAllText", "ReadAllBytes", "WriteAllText", "WriteAllBytes", "ReadAllLines",
	"Bind", "Connect", "Listen",
	"Encrypt", "Decrypt",
	"Registry",
	"LoadFrom", "LoadFile", "LoadAssembly",
	"QueueUserWorkItem",
}

// forbiddenKeywords is matched by exact token.
var forbiddenKeywords = map[string]bool{
	"unsafe": true, "dynamic": true, "DllImport": true, "extern": true,
	"lock": true, "goto": true, "volatile": true, "fixed": true,
	"stackalloc": true, "yield": true, "sealed": true, "base": true,
	"ref": true, "partial": true, "override": true,
}

var (
	tokenPattern        = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
	usingPattern        = regexp.MustCompile(`(?m)^\s*using\s+([A-Za-z0-9_.]+)\s*;`)
	newConstructPattern = regexp.MustCompile(`\bnew\s+([A-Za-z_][A-Za-z0-9_.]*)`)
	memberAccessPattern = regexp.MustCompile(`\.([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
)

// Rejection describes why a contract's source was refused.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string { return r.Reason }

func reject(format string, args ...any) error {
	return &Rejection{Reason: fmt.Sprintf(format, args...)}
}

// Analyzer performs the static safety checks described for contract
// sources, memoizing verdicts for source text seen before.
type Analyzer struct {
	cache *fastcache.Cache
}

// NewAnalyzer returns an Analyzer with a small in-memory verdict cache.
// 8 MiB comfortably holds tens of thousands of verdicts for the
// short error strings and sha256 keys involved.
func NewAnalyzer() *Analyzer {
	return &Analyzer{cache: fastcache.New(8 * 1024 * 1024)}
}

const cacheOK = "ok"

// Analyze returns nil if source passes every check, or a *Rejection naming
// the offending construct.
func (a *Analyzer) Analyze(source string) error {
	key := sha256.Sum256([]byte(source))
	if cached, found := a.cache.HasGet(nil, key[:]); found {
		if string(cached) == cacheOK {
			return nil
		}
		return &Rejection{Reason: string(cached)}
	}

	err := analyze(source)
	if err == nil {
		a.cache.Set(key[:], []byte(cacheOK))
		return nil
	}
	a.cache.Set(key[:], []byte(err.Error()))
	return err
}

func analyze(source string) error {
	if err := checkNamespaces(source); err != nil {
		return err
	}
	if err := checkUnsafeBlocks(source); err != nil {
		return err
	}
	if err := checkConstructedTypes(source); err != nil {
		return err
	}
	if err := checkMemberAccess(source); err != nil {
		return err
	}
	if err := checkKeywords(source); err != nil {
		return err
	}
	return nil
}

func checkNamespaces(source string) error {
	for _, m := range usingPattern.FindAllStringSubmatch(source, -1) {
		target := m[1]
		if !allowedByPrefix(target) {
			return reject("forbidden using/import target %q", target)
		}
	}
	return nil
}

func allowedByPrefix(target string) bool {
	// The bare root namespace is allowed on its own; its sub-namespaces
	// (e.g. System.IO) still need their own entry above.
	if target == "System" {
		return true
	}
	for _, prefix := range allowedNamespacePrefixes {
		if target == prefix || strings.HasPrefix(target, prefix+".") {
			return true
		}
	}
	return false
}

func checkUnsafeBlocks(source string) error {
	if regexp.MustCompile(`\bunsafe\s*\{`).MatchString(source) {
		return reject("unsafe block is forbidden")
	}
	return nil
}

func checkConstructedTypes(source string) error {
	for _, m := range newConstructPattern.FindAllStringSubmatch(source, -1) {
		typeName := m[1]
		for _, forbidden := range forbiddenClasses {
			if strings.Contains(typeName, forbidden) {
				return reject("construction of forbidden type %q (matches %q)", typeName, forbidden)
			}
		}
	}
	return nil
}

func checkMemberAccess(source string) error {
	for _, m := range memberAccessPattern.FindAllStringSubmatch(source, -1) {
		method := m[1]
		for _, forbidden := range forbiddenMethods {
			if strings.Contains(method, forbidden) {
				return reject("call to forbidden method %q (matches %q)", method, forbidden)
			}
		}
	}
	return nil
}

func checkKeywords(source string) error {
	for _, tok := range tokenPattern.FindAllString(source, -1) {
		if forbiddenKeywords[tok] {
			return reject("forbidden keyword %q", tok)
		}
	}
	return nil
}
