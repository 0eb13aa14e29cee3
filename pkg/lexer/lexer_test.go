package lexer

import (
	"reflect"
	"testing"
)

func TestStripCommentsHash(t *testing.T) {
	code, comment, inBlock := StripComments("c0 add $r0.1 = $r0.1, 1 # line 12", false)
	if code != "c0 add $r0.1 = $r0.1, 1" {
		t.Errorf("code = %q", code)
	}
	if comment != " line 12" {
		t.Errorf("comment = %q", comment)
	}
	if inBlock {
		t.Error("should not still be in a block comment")
	}
}

func TestStripCommentsBlockSingleLine(t *testing.T) {
	code, _, inBlock := StripComments("c0 add /* junk */ $r0.1 = $r0.1, 1", false)
	if code != "c0 add  $r0.1 = $r0.1, 1" {
		t.Errorf("code = %q", code)
	}
	if inBlock {
		t.Error("block comment should be closed")
	}
}

func TestStripCommentsBlockSpansLines(t *testing.T) {
	code1, _, inBlock1 := StripComments("c0 add $r0.1 = $r0.1, 1 /* start", false)
	if code1 != "c0 add $r0.1 = $r0.1, 1" {
		t.Errorf("code1 = %q", code1)
	}
	if !inBlock1 {
		t.Fatal("expected to still be in block comment")
	}
	code2, _, inBlock2 := StripComments("still inside */ c0 nop", inBlock1)
	if code2 != "c0 nop" {
		t.Errorf("code2 = %q", code2)
	}
	if inBlock2 {
		t.Error("block comment should have closed")
	}
}

func TestIsLabel(t *testing.T) {
	if !IsLabel("foo:") {
		t.Error("foo: should be a label")
	}
	if !IsLabel("foo::") {
		t.Error("foo:: should be a label")
	}
	if IsLabel("c0 add $r0.1 = $r0.1, 1") {
		t.Error("instruction line should not be a label")
	}
}

func TestGetClusterDefaultsToZero(t *testing.T) {
	cluster, rest := GetCluster("add $r0.1 = $r0.1, 1")
	if cluster != 0 {
		t.Errorf("cluster = %d, want 0", cluster)
	}
	if rest != "add $r0.1 = $r0.1, 1" {
		t.Errorf("rest = %q", rest)
	}
}

func TestGetClusterExplicit(t *testing.T) {
	cluster, rest := GetCluster("c2 add $r2.1 = $r2.1, 1")
	if cluster != 2 {
		t.Errorf("cluster = %d, want 2", cluster)
	}
	if rest != " add $r2.1 = $r2.1, 1" {
		t.Errorf("rest = %q", rest)
	}
}

func TestGetMnemonic(t *testing.T) {
	mnemonic, rest := GetMnemonic(" add $r0.1 = $r0.1, 1")
	if mnemonic != "add" {
		t.Errorf("mnemonic = %q", mnemonic)
	}
	if rest != " $r0.1 = $r0.1, 1" {
		t.Errorf("rest = %q", rest)
	}
}

func TestGetRegs(t *testing.T) {
	got := GetRegs("$r0.1 = $r0.11, $b2.3")
	want := []string{"$r0.1", "$r0.11", "$b2.3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GetRegs = %v, want %v", got, want)
	}
}

func TestParseRegister(t *testing.T) {
	cases := []struct {
		tok  string
		want string
		ok   bool
	}{
		{"$r0.11", "$r0.11", true},
		{"$b1.2", "$b1.2", true},
		{"$l0.0", "$l0.0", true},
		{"32", "", false},
		{"label", "", false},
	}
	for _, c := range cases {
		r, ok := ParseRegister(c.tok)
		if ok != c.ok {
			t.Errorf("ParseRegister(%q) ok = %v, want %v", c.tok, ok, c.ok)
			continue
		}
		if ok && r.String() != c.want {
			t.Errorf("ParseRegister(%q) = %v, want %v", c.tok, r, c.want)
		}
	}
}

func TestSplitOperands(t *testing.T) {
	got := SplitOperands(" $r0.1 , 32 ")
	want := []string{"$r0.1", "32"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SplitOperands = %v, want %v", got, want)
	}
	if SplitOperands("") != nil {
		t.Error("SplitOperands(\"\") should be nil")
	}
}

func TestIsGlobalIsCall(t *testing.T) {
	if !IsGlobal(".global foo") {
		t.Error(".global foo should be recognized as global")
	}
	if !IsCall(".call arg($r0.1) ret($r0.2)") {
		t.Error(".call ... should be recognized as call pseudo-op")
	}
	regs := GetArgRegs(".call arg($r0.1,$r0.2) ret($r0.2)")
	want := []string{"$r0.1", "$r0.2"}
	if !reflect.DeepEqual(regs, want) {
		t.Errorf("GetArgRegs = %v, want %v", regs, want)
	}
	ret := GetRetRegs(".call arg($r0.1,$r0.2) ret($r0.2)")
	wantRet := []string{"$r0.2"}
	if !reflect.DeepEqual(ret, wantRet) {
		t.Errorf("GetRetRegs = %v, want %v", ret, wantRet)
	}
}
