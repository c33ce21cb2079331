package svg

// clientScript is the inline interactivity script embedded in the HTML
// output. It reads the initial-state JSON payload and wires up pan/zoom,
// node inspection, the time-travel scrubber, and the heatmap toggle. The
// script contains no user data; everything dynamic arrives through the
// escaped JSON payload.
const clientScript = `(function () {
  "use strict";
  var stateEl = document.getElementById("flowviz-state");
  var state = {};
  try {
    state = JSON.parse(stateEl ? stateEl.textContent : "{}");
  } catch (err) {
    state = {};
  }
  var viewport = document.getElementById("viewport");
  var svg = document.getElementById("diagram");
  var canvas = document.getElementById("canvas");
  if (!viewport || !svg || !canvas) {
    return;
  }

  // Pan and zoom.
  var tx = 0, ty = 0, scale = 1;
  var dragging = false, lastX = 0, lastY = 0;
  function apply() {
    canvas.setAttribute("transform",
      "translate(" + tx + "," + ty + ") scale(" + scale + ")");
  }
  viewport.addEventListener("mousedown", function (e) {
    dragging = true;
    lastX = e.clientX;
    lastY = e.clientY;
    viewport.style.cursor = "grabbing";
  });
  window.addEventListener("mousemove", function (e) {
    if (!dragging) { return; }
    tx += e.clientX - lastX;
    ty += e.clientY - lastY;
    lastX = e.clientX;
    lastY = e.clientY;
    apply();
  });
  window.addEventListener("mouseup", function () {
    dragging = false;
    viewport.style.cursor = "grab";
  });
  viewport.addEventListener("wheel", function (e) {
    e.preventDefault();
    var factor = e.deltaY < 0 ? 1.1 : 0.9;
    scale = Math.min(4, Math.max(0.2, scale * factor));
    apply();
  }, { passive: false });

  // Node inspection.
  var inspector = document.getElementById("inspector");
  function describe(info) {
    var lines = [];
    lines.push((info.name || info.key) + " [" + info.state + "]");
    lines.push("kind: " + info.kind);
    if (info.duration) { lines.push("duration: " + info.duration); }
    if (info.retries) { lines.push("retries: " + info.retries); }
    if (info.error) { lines.push("error: " + info.error); }
    if (state.heat && state.heat[info.key] !== undefined) {
      lines.push(state.metric + ": " + state.heat[info.key].toFixed(3));
    }
    return lines.join("\n");
  }
  svg.addEventListener("click", function (e) {
    var group = e.target.closest ? e.target.closest(".node") : null;
    if (!group || !inspector) { return; }
    var key = group.getAttribute("data-key");
    var info = state.nodes ? state.nodes[key] : null;
    if (!info) {
      inspector.hidden = true;
      return;
    }
    inspector.textContent = describe(info);
    inspector.hidden = false;
  });

  // Heatmap toggle.
  var toggle = document.getElementById("heatmap-toggle");
  if (toggle) {
    toggle.addEventListener("click", function () {
      viewport.classList.toggle("heatmap-on");
    });
  }

  // Time-travel scrubber: replay node states from the embedded frames.
  var scrubber = document.getElementById("scrubber");
  var scrubberLabel = document.getElementById("scrubber-label");
  if (scrubber && state.frames && state.frames.length > 0) {
    var nodes = svg.querySelectorAll(".node[data-key]");
    scrubber.addEventListener("input", function () {
      var index = Math.min(state.frames.length - 1,
        Math.max(0, parseInt(scrubber.value, 10) || 0));
      var frame = state.frames[index];
      nodes.forEach(function (group) {
        var key = group.getAttribute("data-key");
        var nodeState = frame.states[key] || "pending";
        group.setAttribute("class",
          group.getAttribute("class").replace(/state-[a-z]+/, "state-" + nodeState));
      });
      if (scrubberLabel) {
        scrubberLabel.textContent = (index + 1) + " / " + state.frames.length;
      }
    });
  }

  apply();
})();
`
