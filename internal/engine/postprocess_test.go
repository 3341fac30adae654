package engine

import "testing"

func TestCleanTranscriptKeepsCyrillicLines(t *testing.T) {
	in := "Привет, как дела?\nhello world\nок\nНормальная строка"
	got := CleanTranscript(in)
	want := "Привет, как дела?\nНормальная строка"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestCleanTranscriptDropsRepeatRuns(t *testing.T) {
	in := "Заикание ааааа тут\nЧистая строка без повторов"
	got := CleanTranscript(in)
	if got != "Чистая строка без повторов" {
		t.Fatalf("got %q", got)
	}
}

func TestCleanTranscriptEmpty(t *testing.T) {
	if got := CleanTranscript(""); got != "" {
		t.Fatalf("got %q", got)
	}
	if got := CleanTranscript("abc\n12"); got != "" {
		t.Fatalf("got %q", got)
	}
}

func TestHasTripletRepeat(t *testing.T) {
	if hasTripletRepeat("абв") {
		t.Fatalf("false positive")
	}
	if !hasTripletRepeat("абвввг") {
		t.Fatalf("missed triplet")
	}
}
